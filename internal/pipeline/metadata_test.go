package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     Metadata
	}{
		{
			"full convention",
			"华为-张三-13812345678.mp3",
			Metadata{Company: "华为", Contact: "张三", Phone: "13812345678"},
		},
		{
			"company and contact",
			"华为技术-李经理.m4a",
			Metadata{Company: "华为技术", Contact: "李经理"},
		},
		{
			"company and phone",
			"华为-13812345678.wav",
			Metadata{Company: "华为", Phone: "13812345678"},
		},
		{
			"company only",
			"华为.mp3",
			Metadata{Company: "华为"},
		},
		{
			"temp prefix stripped",
			"temp_华为-张三-13812345678.mp3",
			Metadata{Company: "华为", Contact: "张三", Phone: "13812345678"},
		},
		{
			// The hyphen in a landline number splits like any other
			// separator, so the area code reads as the contact.
			"landline split by hyphen",
			"华为-张三-010-12345678.mp3",
			Metadata{Company: "华为-张三", Contact: "010", Phone: "12345678"},
		},
		{
			"hyphenated company name",
			"中国-移动-通信-王五-13912345678.mp3",
			Metadata{Company: "中国-移动-通信", Contact: "王五", Phone: "13912345678"},
		},
		{
			"three parts without phone",
			"华为-张-三儿.mp3",
			Metadata{Company: "华为", Contact: "张-三儿"},
		},
		{
			"many parts without phone",
			"华为-技术-有限公司-张三.mp3",
			Metadata{Company: "华为-技术-有限公司", Contact: "张三"},
		},
		{
			"international prefix",
			"华为-张三-+8613812345678.mp3",
			Metadata{Company: "华为", Contact: "张三", Phone: "+8613812345678"},
		},
		{
			"seven digit number counts as phone",
			"华为-1234567.mp3",
			Metadata{Company: "华为", Phone: "1234567"},
		},
		{
			"no extension",
			"华为-张三-13812345678",
			Metadata{Company: "华为", Contact: "张三", Phone: "13812345678"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFilename(tt.filename))
		})
	}
}

func TestIsPhoneNumber(t *testing.T) {
	assert.True(t, isPhoneNumber("13812345678"))
	assert.True(t, isPhoneNumber("+8613812345678"))
	assert.True(t, isPhoneNumber("010-12345678"))
	assert.True(t, isPhoneNumber("138 1234 5678"))
	assert.True(t, isPhoneNumber("1234567"))
	assert.False(t, isPhoneNumber("张三"))
	assert.False(t, isPhoneNumber("123456"))
	assert.False(t, isPhoneNumber(""))
	assert.False(t, isPhoneNumber("v2会议"))
}
