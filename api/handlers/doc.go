// Copyright (c) ghostdriver Authors.
// Licensed under the BSD License.

/*
Package handlers 提供 WebDriver HTTP 服务的请求处理器与响应渲染。

# 概述

handlers 是 HTTP 与命令路由器之间的边界。WebDriverHandler 剥离
base path、读取请求体、构造 types.Request 并交给 session.Manager，
再把结果渲染为 JSON wire protocol 响应。

# 核心类型

  - WebDriverHandler — 命令入口，挂载在 base path 下
  - StatusHandler    — GET /status，返回构建与平台信息
  - HealthHandler    — /health、/healthz、/ready、/version
  - ErrorResponse    — 失败响应（sessionId + 数字 status + value）
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码

# 错误映射

types.ErrorCode 同时映射到 HTTP 状态码与 wire 数字状态：

  - MISSING_COMMAND_PARAMETER → 400
  - RESOURCE_NOT_FOUND        → 404 / 6
  - UNKNOWN_COMMAND           → 404 / 9
  - INVALID_COMMAND_METHOD    → 405
  - 其余命令执行失败           → 500 + 对应 wire 状态
*/
package handlers
