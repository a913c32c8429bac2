// Copyright (c) ghostdriver Authors.
// Licensed under the BSD License.

// Package config 提供 ghostdriver 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → GHOSTDRIVER_* 环境变量 的顺序叠加，
// Watcher 在配置文件变更时重新加载并通知订阅者（例如日志级别热更新）。
package config
