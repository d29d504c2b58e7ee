// Package session 保存“钱包已连接”标记：浏览器端的 cookie 以及服务端的
// 标记存储（内存或 Redis）。标记只用于路由守卫，不代表钱包真实状态。
package session
