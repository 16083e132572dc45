// Copyright 2026 fedgateway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 fedgateway 测试的共享工具和辅助函数。

# 概述

testutil 包为 schema、federation、gateway 以及 cmd 的单元测试提供
统一的辅助能力，避免各包重复构造 supergraph 与子图桩服务。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertEventuallyTrue / AssertEventuallyEqual
  - 等待工具: WaitFor / WaitForChannel
  - 数据工具: MustJSON / MustParseJSON / WriteFile

# 子包

  - testutil/mocks: MockSubgraph，基于 httptest 的子图桩服务，
    支持固定数据、响应头、状态码、延迟注入与请求记录
  - testutil/fixtures: supergraph SDL 样例（双子图、单子图、非法文档）

# 使用示例

	accounts := mocks.NewMockSubgraph(t, "accounts").WithData("me", map[string]any{"id": "1"})
	sdl := fixtures.Supergraph(accounts.URL(), products.URL())
*/
package testutil
