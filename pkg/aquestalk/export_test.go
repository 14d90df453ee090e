package aquestalk

// RegisterDigest 在测试期间把 digest 登记为 voice 的已知版本，返回的函数用于撤销。
func RegisterDigest(digest string, voice VoiceType) func() {
	knownDigests[digest] = voice
	return func() { delete(knownDigests, digest) }
}

var EncodeKoe = encodeKoe
