// Package mysql 持久化每次工作流调用的最终结果。默认使用本地 JSON Lines 文件，
// 配置 DSN 后写入 MySQL 的 workflow_outcomes 表，表结构由内嵌迁移维护。
package mysql
