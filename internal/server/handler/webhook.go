package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/server/dao"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/runner"
	"github.com/Kshitijknk07/CicadaCI/pkg/api"
	"github.com/Kshitijknk07/CicadaCI/pkg/pipeline"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	timestampHeader = "X-Webhook-Timestamp"
	signatureHeader = "X-Webhook-Signature"
	timestampMaxAge = 300 // seconds
)

// SignWebhook computes the signature a sender puts in X-Webhook-Signature:
// hex(sha256(timestamp + "." + body + "." + secret)).
func SignWebhook(timestamp string, body []byte, secret string) string {
	signatureBase := fmt.Sprintf("%s.%s.%s", timestamp, body, secret)
	hash := sha256.Sum256([]byte(signatureBase))
	return hex.EncodeToString(hash[:])
}

func Webhook(c *gin.Context) {
	secret := common.GetConfig().WebhookSecret
	if secret == "" {
		common.Error(c, common.WrapErrNo(common.WebhookInvalid, fmt.Errorf("webhook secret not configured")))
		return
	}

	timestampStr := c.GetHeader(timestampHeader)
	signature := c.GetHeader(signatureHeader)
	if timestampStr == "" || signature == "" {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	now := time.Now().Unix()
	if now-timestamp > timestampMaxAge || timestamp > now {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	computed := SignWebhook(timestampStr, body, secret)
	if !hmac.Equal([]byte(computed), []byte(signature)) {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	var payload api.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Name == "" {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	if payload.Event == "" {
		payload.Event = "push"
	}

	_, pipelineVersion, err := dao.NewPipelineDao().GetPipelineByName(c, payload.Name)
	if err != nil {
		common.Error(c, err)
		return
	}
	def, err := pipeline.Parse([]byte(pipelineVersion.Config))
	if err != nil {
		common.Error(c, common.WrapErrNo(common.ConfigInvalid, err))
		return
	}
	if !def.Triggers.Matches(payload.Event, payload.Ref) {
		common.Error(c, common.WrapErrNo(common.WebhookInvalid,
			fmt.Errorf("event %s on %q does not match the triggers of %s", payload.Event, payload.Ref, def.Name)))
		return
	}

	trigger := runner.Trigger{
		Type:    runner.TriggerWebhook,
		Payload: map[string]any{"event": payload.Event, "ref": payload.Ref},
	}
	runID, err := pipelineTrigger.Dispatch(c, def.Name, trigger)
	if err != nil {
		common.Error(c, err)
		return
	}
	common.GetLogger().Info("webhook accepted",
		zap.String("pipeline", def.Name),
		zap.String("event", payload.Event),
		zap.String("ref", payload.Ref),
		zap.String("run_id", runID))
	common.Success(c, api.TriggerResponse{RunID: runID})
}
