// Copyright (c) ghostdriver Authors.
// Licensed under the BSD License.

/*
Package browser 为每个会话提供浏览器引擎后端与命令处理器。

# 概述

PlaywrightLauncher 启动一个共享的引擎进程（chromium / firefox / webkit），
并为每个新会话创建独立的 BrowserContext 与初始窗口。会话后端 Instance
记录该会话的全部窗口，把窗口打开/关闭事件转成 session 的窗口计数信号，
窗口数归零后由 session 的清理任务回收。

# 命令

CommandHandler 实现 JSON wire protocol 的一个子集：

  - GET/POST url、GET title、GET source
  - POST execute
  - GET window_handle、GET window_handles、POST window、DELETE window
  - POST back / forward / refresh
  - GET screenshot（base64 PNG）

其余命令返回 unknown-command；会话未绑定浏览器时返回 unknown-error。
*/
package browser
