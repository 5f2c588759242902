package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildAuditQuery(t *testing.T) {
	assert.Equal(t, map[string]interface{}{"match_all": map[string]interface{}{}}, BuildAuditQuery(AuditQuery{}))

	q := BuildAuditQuery(AuditQuery{Text: "chargeback", GatewayOrderID: "order-1"})
	must := q["bool"].(map[string]interface{})["must"].([]map[string]interface{})

	assert.Len(t, must, 2)
	assert.Contains(t, must[0], "multi_match")
	assert.Equal(t, map[string]interface{}{"gateway_order_id": "order-1"}, must[1]["term"])
}
