// Copyright (c) ghostdriver Authors.
// Licensed under the BSD License.

/*
Package main 提供 ghostdriver 服务端程序入口。

# 概述

cmd/ghostdriver 启动 WebDriver 会话服务：会话路由、零窗口会话的周期清理、
可选的 Playwright 浏览器引擎、健康检查与 Prometheus 指标。

# 核心类型

  - Server      — 装配 WebDriver 监听器、Metrics 监听器、会话管理器与浏览器引擎
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、Metrics、SecurityHeaders、
    RequestLogger、CORS、RateLimiter（基于 IP）
  - 配置热更新：config.Watcher 监听文件变更，目前用于调整日志级别
  - 优雅关闭：信号监听 → 关闭 HTTP → 拆除会话 → 停止引擎 → 关闭 Metrics 与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
