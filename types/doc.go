// Copyright (c) fedgateway Authors.
// Licensed under the MIT License.

/*
Package types 提供网关全局共享的类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 schema、federation、
gateway 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable 与子图归属
  - GraphQLRequest / GraphQLResponse / GraphQLError：GraphQL over HTTP 线上格式

# 主要能力

  - Context 传播：WithRequestID / WithSchemaVersion
  - 错误工具链：AsError / IsErrorCode / IsRetryable / StatusForCode
*/
package types
