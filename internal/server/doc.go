/*
包 server 管理网关监听端口的生命周期。

serve 命令启动两个 Manager：GraphQL 入口（含健康、管理端点）与
独立的 Prometheus metrics 端口。Start 非阻塞，Shutdown 在
ShutdownTimeout 内排空请求，Errors 暴露监听失败。

EnableH2C 为真时处理器被 h2c 包装，同一端口同时接受 HTTP/1.1
与明文 HTTP/2。
*/
package server
