// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 把 Redis 当作若干张小表使用，目前承载用户的模型偏好。

# 存储布局

每张表是一个 Redis hash，key 为 KeyPrefix+表名，field 为行主键。
例如偏好表 astro:preferences 中 field "42" 的值是用户 42 选择的模型。
配置 TableTTL 时，每次写入在同一个 MULTI/EXEC 中刷新整张表的过期时间。

# 核心类型

  - Manager：HGet / HSet / HDel / HLen，Ping 供就绪检查使用
  - Config：连接、连接池、键前缀、表过期与探活间隔

# 错误语义

字段不存在返回 ErrMiss（IsMiss 判断），关闭后的调用返回 ErrClosed。
后台探活只在健康状态变化时记录日志，Healthy 返回最近一次结果。
*/
package cache
