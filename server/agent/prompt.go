package agent

import (
	"fmt"
	"strings"
	"time"
)

const basePrompt = `You are a store analytics assistant for a WooCommerce shop owner.
Today's date: %s.

You have tools that read the store's live data. YOU HAVE NO KNOWLEDGE OF THE STORE'S DATA until a tool returns it.
1. ALWAYS use a tool to look up products, orders, customers, coupons, reviews or reports. Never invent numbers.
2. Prefer store_overview, top_customers, sales_growth and low_stock_products for summaries.
3. For custom date ranges, quarters or calculations the other tools do not cover, use code_interpreter.
4. If a tool returns success:false, explain the problem to the user in plain words.`

const noStorePrompt = `
No store is connected for this conversation. Store tools are unavailable; say so if the user asks for store data.`

// protocolPrompt is appended to every system prompt, including caller overrides.
const protocolPrompt = `

GOLDEN RULE FOR VISUALIZATION:
- Each dataset is visualized AT MOST ONCE per answer. Call createDataCards or createDataDisplay exactly once for a given dataset.
- When a visualization tool returns success:true with "DO NOT call this tool again", the user already sees it. Do not call any visualization tool again for that data.
- After a successful visualization, answer with your analytical insights in text. Never repeat the table or chart contents as a tool call.
- If a visualization tool returns success:false, fix the arguments once or fall back to a text answer.
- Table rows must have exactly one cell per column. Chart datasets must have exactly one value per label.`

// SystemPrompt builds the system message. override replaces the base instructions;
// the visualization protocol is always included.
func SystemPrompt(override string, storeConnected bool, now time.Time) string {
	var sb strings.Builder
	if strings.TrimSpace(override) != "" {
		sb.WriteString(strings.TrimSpace(override))
	} else {
		sb.WriteString(fmt.Sprintf(basePrompt, now.Format("2006-01-02 15:04 MST")))
		if !storeConnected {
			sb.WriteString(noStorePrompt)
		}
	}
	sb.WriteString(protocolPrompt)
	return sb.String()
}
