// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 telemetry 负责 OpenTelemetry SDK 的启动与关闭。

启用时通过 OTLP gRPC 导出 span 与指标，并安装 W3C TraceContext 传播器，
HTTP 中间件与 bot 分发器据此串起一次对话的调用链。禁用时不创建任何
导出器，[Providers.Tracer] 返回全局 noop Tracer，调用方无需判断。
*/
package telemetry
