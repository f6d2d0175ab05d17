// Copyright (c) Council Authors.
// Licensed under the MIT License.

// Package config 提供 council 服务的配置管理。
//
// 配置按 默认值 → YAML 文件 → COUNCIL_ 环境变量 的顺序叠加，
// Reloader 监听配置文件并把 conductor 段热更新到运行中的调度器。
package config
