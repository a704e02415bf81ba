package llm

import (
	"reflect"
	"testing"
)

func TestSegmenterFeed(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
		want   []string
		rest   string
	}{
		{
			name:   "英文句子按标点切分",
			deltas: []string{"Hello, world! How are you"},
			want:   []string{"Hello,", "world!"},
			rest:   "How are you",
		},
		{
			name:   "中文标点",
			deltas: []string{"你好，今天天气不错。明天"},
			want:   []string{"你好，", "今天天气不错。"},
			rest:   "明天",
		},
		{
			name:   "标点跨增量到达",
			deltas: []string{"第一句", "。第二句！剩余"},
			want:   []string{"第一句。", "第二句！"},
			rest:   "剩余",
		},
		{
			name:   "无标点全部留在缓冲区",
			deltas: []string{"没有", "任何标点"},
			want:   nil,
			rest:   "没有任何标点",
		},
		{
			name:   "标点后的空白被吃掉",
			deltas: []string{"One. Two. Three"},
			want:   []string{"One.", "Two."},
			rest:   "Three",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := newSegmenter()
			var got []string
			for _, d := range tt.deltas {
				got = append(got, seg.Feed(d)...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Feed() = %v, want %v", got, tt.want)
			}
			if rest := seg.Flush(); rest != tt.rest {
				t.Errorf("Flush() = %q, want %q", rest, tt.rest)
			}
		})
	}
}

func TestSegmenterFlushClearsBuffer(t *testing.T) {
	seg := newSegmenter()
	seg.Feed("残余文本")
	if rest := seg.Flush(); rest != "残余文本" {
		t.Fatalf("第一次 Flush() = %q", rest)
	}
	if rest := seg.Flush(); rest != "" {
		t.Fatalf("第二次 Flush() = %q, 应为空", rest)
	}
}
