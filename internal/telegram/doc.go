// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package telegram 实现 Telegram Bot API 长轮询传输层。

# 组成

  - Client: getMe / deleteWebhook / getUpdates / sendMessage /
    editMessageText / sendChatAction / answerCallbackQuery。
    发送类调用经 x/time/rate 限速，Markdown 发送被拒时降级为纯文本重试一次。
  - Poller: 启动时校验 token 并丢弃积压更新，随后长轮询
    message 与 callback_query，通过 errgroup 以有限并发分发给 Handler。
    单个更新的 panic 会被恢复并记录。

# 使用示例

	client, _ := telegram.NewClient(telegram.Config{Token: token}, logger)
	dispatcher := bot.NewDispatcher(cfg, limiter, store, catalog, prefs, logger,
		bot.WithTyping(client.Typing))
	poller := telegram.NewPoller(client, dispatcher, telegram.DefaultPollerConfig(), logger)
	_ = poller.Run(ctx)
*/
package telegram
