// Copyright (c) ghostdriver Authors.
// Licensed under the BSD License.

/*
包 server 提供 HTTP 监听器的生命周期管理：非阻塞启动、
信号等待、优雅关闭与关闭钩子。

# 概述

Manager 封装 net/http.Server。ghostdriver 进程通常持有两个 Manager：
WebDriver 命令监听器与 Prometheus 指标监听器。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务，Addr 返回实际绑定地址
  - 优雅关闭：Shutdown 在配置的超时内排空请求，随后依次执行
    OnShutdown 注册的钩子（关闭全部会话、停止浏览器引擎）
  - 信号监听：WaitForShutdown 监听 SIGINT/SIGTERM 或 ctx 取消
  - 错误传播：Errors() 返回异步错误通道
*/
package server
