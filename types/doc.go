// Copyright (c) ghostdriver Authors.
// Licensed under the BSD License.

/*
Package types 提供 WebDriver 服务端各层共享的类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包。session 路由器、浏览器命令处理器
与 HTTP 响应层都通过这里的类型交换请求、响应与错误。

# 核心类型

  - Request        — 已剥离 base path 的命令请求（method、路径分段、原始 body）
  - Response       — 成功结果（sessionId、wire status、value）
  - CommandHandler — 命令处理接口，路由器与每个 session 的处理器都实现它
  - Error / ErrorCode — 结构化错误体系，携带请求 method 与 path

# 错误码

  - INVALID_COMMAND_METHOD / MISSING_COMMAND_PARAMETER / RESOURCE_NOT_FOUND
    由路由器与 session 生命周期操作产生
  - UNKNOWN_COMMAND / NO_SUCH_WINDOW / JAVASCRIPT_ERROR 等由命令处理器产生
*/
package types
