package llm

import "regexp"

// sentenceRe 中英文标点后切分，标点保留在片段尾部，
// 标点后的空白一并吃掉，避免下游 TTS 念出空格
var sentenceRe = regexp.MustCompile(`([.,;:!?，。！？；：])\s*`)

// segmenter 把流式增量切成适合逐段播报的片段。
// 未遇到标点的文本留在缓冲区，等后续增量或 Flush。
type segmenter struct {
	buf string
}

func newSegmenter() *segmenter {
	return &segmenter{}
}

// Feed 追加一段增量，返回其中已经完整的片段
func (s *segmenter) Feed(delta string) []string {
	if delta == "" {
		return nil
	}
	s.buf += delta

	locs := sentenceRe.FindAllStringSubmatchIndex(s.buf, -1)
	if len(locs) == 0 {
		return nil
	}

	var segments []string
	start := 0
	for _, loc := range locs {
		// loc[3] 是标点结束位置，loc[1] 是连同空白的匹配结束位置
		seg := s.buf[start:loc[3]]
		if seg != "" {
			segments = append(segments, seg)
		}
		start = loc[1]
	}
	s.buf = s.buf[start:]
	return segments
}

// Flush 取出缓冲区里最后一段不以标点结尾的残余
func (s *segmenter) Flush() string {
	rest := s.buf
	s.buf = ""
	return rest
}
