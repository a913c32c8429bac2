// Copyright (c) ghostdriver Authors.
// Licensed under the BSD License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP 请求、
会话生命周期、清理任务与委派命令四个维度。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer：
二进制使用默认 Registry 并由 promhttp 在独立端口暴露，
测试使用各自的 prometheus.NewRegistry()，互不冲突。

# 核心类型

  - Collector：持有全部向量指标，并实现 session.MetricsRecorder，
    直接作为 session.Manager 的指标接收端。

# 主要指标

  - http_requests_total / http_request_duration_seconds
  - sessions_created_total / sessions_deleted_total{reason} / sessions_active
  - cleanup_sweeps_total / cleanup_reclaimed_sessions_total /
    cleanup_teardown_failures_total
  - commands_total{result}
*/
package metrics
