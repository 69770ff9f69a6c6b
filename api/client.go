package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"

	"github.com/seedlethq/fieldsync/model"
	Logger "github.com/seedlethq/fieldsync/utils/log"
)

// Client talks to the Seedlet backend REST API. Every submit returns the
// server's canonical representation of the affected entity; fetches are
// idempotent reads. Request timeouts are the injected http.Client's
// concern.
type Client struct {
	baseURL string
	header  http.Header

	client *http.Client
}

func NewDefaultClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, header: http.Header{}, client: &http.Client{}}
}

func NewClient(baseURL string, header http.Header, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if header == nil {
		header = http.Header{}
	}
	return &Client{baseURL: baseURL, header: header, client: httpClient}
}

// envelope is the backend's uniform response wrapper.
type envelope struct {
	StatusCode int             `json:"statuscode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "fail to encode request body")
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "fail to build request")
	}
	for key, values := range c.header {
		req.Header[key] = values
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, fmt.Sprint("fail to call ", method, " ", path))
	}
	defer res.Body.Close()

	raw, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "fail to read response body")
	}

	if res.StatusCode >= 300 {
		Logger.Log.Errorf("non-200 http code %d from %s %s: %s", res.StatusCode, method, path, string(raw))
		return errors.Errorf("backend returned %d for %s %s", res.StatusCode, method, path)
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Wrap(err, "fail to decode response envelope")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrap(err, "fail to decode response data")
	}
	return nil
}

// FetchFeed returns the ordered seedlet summaries.
func (c *Client) FetchFeed(ctx context.Context) ([]model.Seedlet, error) {
	var canonical []model.CanonicalSeedlet
	if err := c.do(ctx, http.MethodGet, "/ideas", nil, &canonical); err != nil {
		return nil, err
	}
	seedlets := make([]model.Seedlet, 0, len(canonical))
	for _, entry := range canonical {
		seedlets = append(seedlets, entry.Resolve())
	}
	return seedlets, nil
}

type detailPayload struct {
	Idea     model.CanonicalSeedlet   `json:"idea"`
	Comments []model.CanonicalComment `json:"comments"`
}

// FetchDetail returns one full seedlet and its top level discussion.
func (c *Client) FetchDetail(ctx context.Context, id string) (model.Seedlet, []model.Comment, error) {
	var payload detailPayload
	if err := c.do(ctx, http.MethodGet, "/ideas/"+id, nil, &payload); err != nil {
		return model.Seedlet{}, nil, err
	}
	comments := make([]model.Comment, 0, len(payload.Comments))
	for _, canonical := range payload.Comments {
		comments = append(comments, canonical.Resolve())
	}
	return payload.Idea.Resolve(), comments, nil
}

type subtreePayload struct {
	Comments []model.CanonicalComment `json:"comments"`
}

// FetchCommentSubtree returns the direct replies under one comment.
func (c *Client) FetchCommentSubtree(ctx context.Context, commentId string) ([]model.Comment, error) {
	var payload subtreePayload
	if err := c.do(ctx, http.MethodGet, "/comments/"+commentId, nil, &payload); err != nil {
		return nil, err
	}
	replies := make([]model.Comment, 0, len(payload.Comments))
	for _, canonical := range payload.Comments {
		replies = append(replies, canonical.Resolve())
	}
	return replies, nil
}

func (c *Client) SubmitLike(ctx context.Context, id string) (model.CanonicalSeedlet, error) {
	var canonical model.CanonicalSeedlet
	err := c.do(ctx, http.MethodPost, "/ideas/"+id+"/likes", nil, &canonical)
	return canonical, err
}

type interestPayload struct {
	RoleInterestedIn string `json:"roleInterestedIn"`
}

func (c *Client) SubmitInterest(ctx context.Context, id string, role string) (model.CanonicalSeedlet, error) {
	var canonical model.CanonicalSeedlet
	err := c.do(ctx, http.MethodPost, "/ideas/"+id+"/interests", interestPayload{RoleInterestedIn: role}, &canonical)
	return canonical, err
}

type commentPayload struct {
	Comment string `json:"comment"`
}

func (c *Client) SubmitComment(ctx context.Context, id string, text string) (model.CanonicalComment, error) {
	var canonical model.CanonicalComment
	err := c.do(ctx, http.MethodPost, "/ideas/"+id+"/comments", commentPayload{Comment: text}, &canonical)
	return canonical, err
}

type replyPayload struct {
	Reply string `json:"reply"`
}

func (c *Client) SubmitReply(ctx context.Context, commentId string, text string) (model.CanonicalComment, error) {
	var canonical model.CanonicalComment
	err := c.do(ctx, http.MethodPost, "/comments/"+commentId+"/replies", replyPayload{Reply: text}, &canonical)
	return canonical, err
}

func (c *Client) SubmitCommentLike(ctx context.Context, commentId string) (model.CanonicalComment, error) {
	var canonical model.CanonicalComment
	err := c.do(ctx, http.MethodPost, "/comments/"+commentId+"/likes", nil, &canonical)
	return canonical, err
}

func (c *Client) SubmitSeedlet(ctx context.Context, payload model.CreateSeedletPayload) (model.CanonicalSeedlet, error) {
	var canonical model.CanonicalSeedlet
	err := c.do(ctx, http.MethodPost, "/ideas", payload, &canonical)
	return canonical, err
}

func (c *Client) SubmitSeedletEdit(ctx context.Context, id string, payload model.EditSeedletPayload) (model.CanonicalSeedlet, error) {
	var canonical model.CanonicalSeedlet
	err := c.do(ctx, http.MethodPatch, "/ideas/"+id, payload, &canonical)
	return canonical, err
}
