// Package mcpserver 把 exchange 服务以 MCP 工具与资源的形式暴露给调用方，
// 并在写操作外层按签名者串行化。
package mcpserver
