package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDurationText(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"时长秒数: 74", 74, true},
		{"时长秒数：74", 74, true},
		{"74秒", 74, true},
		{"通话时长: 74秒", 74, true},
		{"01:14", 74, true},
		{"通话时长 1:23", 83, true},
		{"00:45", 45, true},
		{"74", 74, true},
		{"", 0, false},
		{"   ", 0, false},
		{"无法识别", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDurationText(tt.text)
		assert.Equal(t, tt.ok, ok, "text %q", tt.text)
		assert.Equal(t, tt.want, got, "text %q", tt.text)
	}
}

func TestScoreResolvesDurationText(t *testing.T) {
	d := NewDetector(0.7, testLogger(t))
	numeric := Record{
		Filename:        "a.mp3",
		Company:         "华为",
		Contact:         "张三",
		CallTime:        "6月24日 上午11:14",
		DurationSeconds: 74,
	}
	textual := numeric
	textual.DurationSeconds = 0
	textual.DurationText = "时长秒数: 74"

	assert.Equal(t, d.Score(numeric, numeric), d.Score(numeric, textual))
}
