// Package config 提供 AstroGeminiBot 的配置管理功能。
//
// 加载顺序为默认值、YAML 文件、扁平环境变量（TELEGRAM_BOT_TOKEN、
// OPENAI_API_KEY、RATE_LIMIT_MESSAGES 等），最后是带 ASTRO_ 前缀的
// 嵌套变量（ASTRO_SERVER_HTTP_PORT）。Validate 一次返回全部违规项。
package config
