// Copyright (c) ghostdriver Authors.
// Licensed under the BSD License.

// Package tlsutil 提供集中式 TLS 配置，
// 为 WebDriver 监听器与健康检查客户端提供加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
