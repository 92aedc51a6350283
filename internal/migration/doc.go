// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理用量账本在 PostgreSQL 与 MySQL 上的版本化 Schema，
基于 golang-migrate 实现。

# 概述

SQL 迁移文件通过 embed.FS 内嵌，iofs 作为迁移源。SQLite 账本由
gorm AutoMigrate 建表，不经过本包。

# 核心类型

  - Migrator：Up/Down/DownAll/Steps/Force/Version/Status/Info/Close。
  - DefaultMigrator：封装 golang-migrate 实例与数据库连接。
  - CLI：`astrogeminibot migrate` 子命令的终端输出层，Run 负责分派。
  - NewMigratorFromDatabaseConfig：从 database.Config 创建迁移器，
    MySQL DSN 会自动补齐 multiStatements 与 parseTime。
*/
package migration
