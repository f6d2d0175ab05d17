// 版权所有 2024 Council Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 tokenizer 在模型网关未返回 token 用量时估算 token 数，
用于会话 token 预算与熔断器计数。

  - Tiktoken：基于 tiktoken-go 的精确计数（默认 cl100k_base，懒加载）
  - Estimator：按 CJK / ASCII 字符比例估算，无外部依赖
  - Fallback：主计数器失败时回退到备用计数器（如离线环境无法加载 BPE）
*/
package tokenizer
