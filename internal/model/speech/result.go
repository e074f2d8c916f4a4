package speech

// Result 流式识别的一条结果。IsPartial 表示尚未稳定的中间假设。
type Result struct {
	Text      string `json:"text"`
	IsPartial bool   `json:"isPartial"`
}
