// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理机器人进程中的 HTTP/HTTPS 服务器（API 与 Prometheus 指标端点）。

# 概述

Manager 封装 net/http.Server，负责监听、服务、关闭与错误传播。
配置了证书与私钥时使用 tlsutil 的加固配置提供 HTTPS。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Run/Shutdown 等生命周期方法。
  - Config：名称、监听地址、读写与空闲超时、最大请求头大小、
    优雅关闭超时以及 TLS 证书路径。

# 主要能力

  - Run 阻塞到 ctx 取消后优雅关闭，适合放入 errgroup 与 Telegram
    轮询器、对话清理任务并列运行。
  - Start 为非阻塞启动，Errors() 暴露异步错误。
  - Addr 在监听 ":0" 时返回实际端口。
*/
package server
