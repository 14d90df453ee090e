package aquestalk

import (
	"fmt"
	"strings"
)

// VoiceType 声种。每个声种对应一个单独编译的 AquesTalk.dll。
type VoiceType string

const (
	VoiceF1   VoiceType = "f1"
	VoiceF2   VoiceType = "f2"
	VoiceM1   VoiceType = "m1"
	VoiceM2   VoiceType = "m2"
	VoiceR1   VoiceType = "r1"
	VoiceDVD  VoiceType = "dvd"
	VoiceJGR  VoiceType = "jgr"
	VoiceIMD1 VoiceType = "imd1"
)

var voiceTypes = []VoiceType{VoiceF1, VoiceF2, VoiceM1, VoiceM2, VoiceR1, VoiceDVD, VoiceJGR, VoiceIMD1}

// VoiceTypes 按固定顺序返回所有已知声种。
func VoiceTypes() []VoiceType {
	out := make([]VoiceType, len(voiceTypes))
	copy(out, voiceTypes)
	return out
}

// ParseVoiceType 解析声种标识（不区分大小写）。未知标识返回 ErrVoiceNotFound。
func ParseVoiceType(s string) (VoiceType, error) {
	v := VoiceType(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrVoiceNotFound, s)
	}
	return v, nil
}

// Valid 报告 v 是否为已知声种。
func (v VoiceType) Valid() bool {
	for _, t := range voiceTypes {
		if t == v {
			return true
		}
	}
	return false
}

func (v VoiceType) String() string { return string(v) }
