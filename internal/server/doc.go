// Copyright (c) Council Authors.
// Licensed under the MIT License.

/*
包 server 管理 council serve 中 HTTP 服务器的生命周期。

Manager 封装 http.Server：Listen 绑定地址，Run 阻塞服务直到 context
结束，随后在 ShutdownTimeout 内优雅关闭。API 服务与 metrics 服务各用
一个 Manager，由 errgroup 统一调度。配置了证书与私钥时以 HTTPS 监听，
TLS 参数来自 tlsutil.ServerConfig。
*/
package server
