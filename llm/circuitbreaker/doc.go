// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 circuitbreaker 提供按 Provider 隔离的三态熔断器。

连续失败达到 Threshold 后打开；打开超过 ResetTimeout 后的下一次调用
进入半开，最多放行 HalfOpenMaxCalls 个试探；试探成功则关闭，失败则重新打开。
调用方主动取消的调用不计入失败，Config.IsFailure 可以排除客户端类错误。
*/
package circuitbreaker
