// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、LLM 调用、
准入判定、对话清理、Telegram 更新、缓存与数据库连接池。

# 概述

Collector 通过 promauto.With 注册，默认注册到 prometheus.DefaultRegisterer，
WithRegisterer 可换成独立 Registry。/metrics 由 promhttp.Handler 暴露。

# 核心类型

  - Collector：同时实现 ratelimit.Recorder、
    conversation.SweepRecorder 与 database.StatsRecorder，
    可直接注入这些组件。

# 主要能力

  - HTTP 指标：请求总数、耗时与响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - LLM 指标：按 provider/model/status 统计请求数、耗时与 token 用量。
  - 准入指标：allowed/denied 计数。
  - 对话指标：清理删除数与清理后的对话数。
  - Telegram 指标：按 kind/status 统计更新处理结果。
  - 缓存指标：按表统计 hit/miss。
*/
package metrics
