package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/service"

	"github.com/sirupsen/logrus"
)

// gradeRequest 是发送给评分服务的请求体。
type gradeRequest struct {
	SessionID string          `json:"session_id"`
	StudentID uint            `json:"student_id"`
	Answers   json.RawMessage `json:"answers"`
}

// HTTPGrader 通过 HTTP 调用外部评分服务，实现 service.Grader。
type HTTPGrader struct {
	url    string
	client *http.Client
}

// NewHTTPGrader 创建评分客户端，请求发往 baseURL + "/grade"。
func NewHTTPGrader(baseURL string, timeout time.Duration) *HTTPGrader {
	if baseURL == "" {
		panic("grader URL cannot be empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGrader{
		url:    strings.TrimRight(baseURL, "/") + "/grade",
		client: &http.Client{Timeout: timeout},
	}
}

// Grade 提交答案并返回评分结果。
// 评分服务返回 4xx 表示答案被拒绝 (service.ErrInvalidInput)；网络错误、超时和 5xx 都是暂时性失败。
func (g *HTTPGrader) Grade(ctx context.Context, sessionID string, studentID uint, answers []byte) (domain.GradeResult, error) {
	body, err := json.Marshal(gradeRequest{SessionID: sessionID, StudentID: studentID, Answers: answers})
	if err != nil {
		return domain.GradeResult{}, fmt.Errorf("%w: encode answers: %v", service.ErrInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return domain.GradeResult{}, fmt.Errorf("build grade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.GradeResult{}, fmt.Errorf("grade request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "student_id": studentID, "status": resp.StatusCode}).
			Warn("Grader rejected submission")
		return domain.GradeResult{}, fmt.Errorf("%w: grader rejected answers: %s", service.ErrInvalidInput, strings.TrimSpace(string(msg)))
	default:
		return domain.GradeResult{}, fmt.Errorf("grader returned %s", resp.Status)
	}

	var result domain.GradeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.GradeResult{}, fmt.Errorf("decode grade response: %w", err)
	}
	return result, nil
}
