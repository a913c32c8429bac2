// Copyright (c) ghostdriver Authors.
// Licensed under the BSD License.

/*
Package session 管理自动化会话的生命周期与请求路由。

# 概述

Manager 持有会话注册表（sessions）与按需创建的命令处理器表（handlers），
并把每个请求路由到以下之一：

  - POST /session          创建会话
  - GET  /sessions         列出会话
  - GET  /session/{id}     返回能力集
  - DELETE /session/{id}   删除会话
  - /session/{id}/...      委派给该会话的 CommandHandler

其余请求返回 invalid-command-method。

# 并发

注册表由单把锁保护。创建在锁内预留 id，浏览器启动在锁外进行；
删除先"认领"会话，等待在途命令结束后再执行 AboutToDelete，
保证同一会话只会被拆除一次。

# 清理

StartCleanup 启动周期任务（默认 5 分钟），回收窗口数为 0 的会话。
每个会话独立拆除，单个失败不影响其余会话。
*/
package session
