// Package audit 负责合约审计报告的提交流程：源码校验、合约哈希、冷却时间、
// 调用分析服务以及报告的持久化（内存或 MySQL）。
package audit
