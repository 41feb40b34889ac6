// Package alerting 在工作流失败需要人工介入时（授权结果不明确、节点不可达等）
// 通过日志与 webhook 发送告警。
package alerting
