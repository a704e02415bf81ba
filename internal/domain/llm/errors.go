package llm

import "errors"

// 哨兵错误，调用方用 errors.Is 区分中断、挂断和上游语义失败
var (
	// ErrInterrupted 流式回答被 Interrupt 打断，已产出的片段仍然有效
	ErrInterrupted = errors.New("llm: 查询被中断")

	// ErrHangup 会话已挂断，后续所有查询都返回该错误
	ErrHangup = errors.New("llm: 会话已挂断")

	// ErrEmptyResponse 上游成功返回但内容为空
	ErrEmptyResponse = errors.New("llm: 上游返回空回复")

	// ErrEchoResponse 上游把用户输入原样返回，视为无效回复
	ErrEchoResponse = errors.New("llm: 上游回显了用户输入")

	// ErrMaxToolIterations 工具解析循环超过上限仍未收敛
	ErrMaxToolIterations = errors.New("llm: 工具调用迭代次数超限")

	// ErrStreamStalled 流式读取超过静默时限，按软超时处理
	ErrStreamStalled = errors.New("llm: 流式读取超时")
)
