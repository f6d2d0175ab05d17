// Copyright (c) Council Authors.

/*
Package testutil 提供 council 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup
  - 断言工具: AssertErrorCode / AssertTurnsContiguous / AssertJSONEqual /
    AssertEventuallyTrue
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockGateway（llm.Gateway 的脚本化实现）
  - testutil/fixtures: SeedDebate 会话种子数据与选择器回复样例
*/
package testutil
