// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开用量账本所用的 GORM 连接并管理连接池。

# 概述

Open 根据驱动名选择方言：sqlite（glebarez 纯 Go 实现，默认）、
postgres 与 mysql。PoolManager 封装 database/sql 连接池参数，
后台健康检查定时探活，并把连接数上报给 StatsRecorder。

# 核心类型

  - Config：驱动、DSN 与连接池配置。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，Validate 聚合所有非法项。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 事务管理：WithTransaction 单次执行，WithTransactionRetry
    对死锁、序列化失败、SQLite 锁冲突按 cenkalti/backoff 指数退避重试。
  - 健康检查：Close 会停止后台循环并等待其退出。
*/
package database
