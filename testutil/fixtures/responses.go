// =============================================================================
// 📦 测试数据工厂 - 选择器响应测试数据
// =============================================================================
// 提供预定义的选择器原始回复，用于测试解析与调度
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"

	"github.com/muchaco/council/types"
)

// =============================================================================
// 🎯 决策 JSON 工厂
// =============================================================================

// DecisionJSON 返回选中 personaID 的决策
func DecisionJSON(personaID, reasoning string) string {
	return mustJSON(map[string]any{
		"selectedPersonaId": personaID,
		"reasoning":         reasoning,
	})
}

// WaitForUserJSON 返回等待用户的决策
func WaitForUserJSON(reasoning string) string {
	return DecisionJSON("WAIT_FOR_USER", reasoning)
}

// DecisionWithBlackboardJSON 返回附带黑板更新的决策
func DecisionWithBlackboardJSON(personaID string, update types.BlackboardUpdate) string {
	return mustJSON(map[string]any{
		"selectedPersonaId": personaID,
		"reasoning":         "updating the blackboard",
		"blackboardUpdate":  update,
	})
}

// InterventionJSON 返回带干预消息的决策
func InterventionJSON(personaID, message string, drift bool) string {
	return mustJSON(map[string]any{
		"selectedPersonaId":   personaID,
		"reasoning":           "the debate is going in circles",
		"isIntervention":      true,
		"interventionMessage": message,
		"driftDetected":       drift,
	})
}

// BlankInterventionResponse 标记为干预但没有任何可发布的内容
func BlankInterventionResponse(personaID string) string {
	return mustJSON(map[string]any{
		"selectedPersonaId":   personaID,
		"reasoning":           " ",
		"isIntervention":      true,
		"interventionMessage": "",
	})
}

// =============================================================================
// 🧩 非规范回复
// =============================================================================

// WrappedInProse 模拟模型在 JSON 前后附加说明文字与代码块
func WrappedInProse(obj string) string {
	return fmt.Sprintf("Sure! Here is my decision:\n```json\n%s\n```\nLet me know if you need more.", obj)
}

// NoObjectResponse 不包含任何 JSON 对象
func NoObjectResponse() string {
	return "I think Alice should speak next because she has not weighed in yet."
}

// WrongTypeResponse 字段类型错误
func WrongTypeResponse() string {
	return `{"selectedPersonaId": 42, "reasoning": "numbers"}`
}

// UnknownFieldResponse 含有未定义字段
func UnknownFieldResponse(personaID string) string {
	return fmt.Sprintf(`{"selectedPersonaId": %q, "reasoning": "x", "confidence": 0.9}`, personaID)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
