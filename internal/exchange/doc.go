// Package exchange 实现流动性池交互的编排层：授权检查、按序提交、等待确认，
// 并把链上结果压平为返回给调用方的单一 Outcome。
//
// 链上访问通过 Token、Pool、Chain 三个接口注入，具体实现位于 internal/web3/ethereum。
package exchange
