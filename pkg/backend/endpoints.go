// SPDX-License-Identifier: Apache-2.0
package backend

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

// QueryOptions carries the common list-endpoint parameters.
type QueryOptions struct {
	Query  string
	Folder string
	Status string
	Limit  int
}

func (o QueryOptions) values(withFolder, withStatus bool) url.Values {
	p := url.Values{}
	if o.Query != "" {
		p.Set("query", o.Query)
	}
	if withFolder && o.Folder != "" {
		p.Set("folder", o.Folder)
	}
	if withStatus && o.Status != "" {
		p.Set("status", o.Status)
	}
	p.Set("limit", strconv.Itoa(clampLimit(o.Limit)))
	return p
}

// EngineInfo returns engine/info.
func (c *Client) EngineInfo(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "engine/info", nil)
}

// EngineConfiguration returns engine/configuration for one key.
func (c *Client) EngineConfiguration(ctx context.Context, key string) (json.RawMessage, error) {
	p := url.Values{}
	if key != "" {
		p.Set("key", key)
	}
	return c.get(ctx, "engine/configuration", p)
}

// ListUsers returns model/user.
func (c *Client) ListUsers(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "model/user", nil)
}

// ListGroups returns model/group.
func (c *Client) ListGroups(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "model/group", nil)
}

// QueryJobDefinitions returns model/jobdefinition filtered by opts.
func (c *Client) QueryJobDefinitions(ctx context.Context, opts QueryOptions) (json.RawMessage, error) {
	return c.get(ctx, "model/jobdefinition", opts.values(true, false))
}

// JobDefinition returns model/jobdefinition/{id}.
func (c *Client) JobDefinition(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "model/jobdefinition/"+url.PathEscape(id), nil)
}

// QueryJobStreams returns model/jobstream filtered by opts.
func (c *Client) QueryJobStreams(ctx context.Context, opts QueryOptions) (json.RawMessage, error) {
	return c.get(ctx, "model/jobstream", opts.values(true, false))
}

// JobStream returns model/jobstream/{id}.
func (c *Client) JobStream(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "model/jobstream/"+url.PathEscape(id), nil)
}

// QueryWorkstations returns model/workstation filtered by opts.
func (c *Client) QueryWorkstations(ctx context.Context, opts QueryOptions) (json.RawMessage, error) {
	return c.get(ctx, "model/workstation", opts.values(false, false))
}

// Workstation returns model/workstation/{id}.
func (c *Client) Workstation(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "model/workstation/"+url.PathEscape(id), nil)
}

// QueryPlanJobs returns plan/job filtered by opts (query, folder, status,
// limit).
func (c *Client) QueryPlanJobs(ctx context.Context, opts QueryOptions) (json.RawMessage, error) {
	return c.get(ctx, "plan/job", opts.values(true, true))
}

// PlanJob returns plan/job/{id}.
func (c *Client) PlanJob(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "plan/job/"+url.PathEscape(id), nil)
}

// PlanJobPredecessors returns plan/job/{id}/predecessors. depth==0 omits
// the parameter so the server default applies; otherwise depth must be in
// [1,5].
func (c *Client) PlanJobPredecessors(ctx context.Context, id string, depth int) (json.RawMessage, error) {
	if err := validateDepth(depth); err != nil {
		return nil, err
	}
	return c.get(ctx, "plan/job/"+url.PathEscape(id)+"/predecessors", depthParams(depth))
}

// PlanJobSuccessors returns plan/job/{id}/successors.
func (c *Client) PlanJobSuccessors(ctx context.Context, id string, depth int) (json.RawMessage, error) {
	if err := validateDepth(depth); err != nil {
		return nil, err
	}
	return c.get(ctx, "plan/job/"+url.PathEscape(id)+"/successors", depthParams(depth))
}

// PlanJobModel returns plan/job/{id}/model.
func (c *Client) PlanJobModel(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "plan/job/"+url.PathEscape(id)+"/model", nil)
}

// PlanJobModelDescription returns plan/job/{id}/model/description.
// Treated as opaque JSON; content-type handling may need relaxing if the
// backend serves HTML here.
func (c *Client) PlanJobModelDescription(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "plan/job/"+url.PathEscape(id)+"/model/description", nil)
}

// PlanJobCount returns plan/job/count.
func (c *Client) PlanJobCount(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "plan/job/count", nil)
}

// PlanJobIssues returns plan/job/issues.
func (c *Client) PlanJobIssues(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "plan/job/issues", nil)
}

// PlanJobLog returns plan/job/joblog.
func (c *Client) PlanJobLog(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "plan/job/joblog", nil)
}

// QueryPlanJobStreams returns plan/jobstream filtered by opts.
func (c *Client) QueryPlanJobStreams(ctx context.Context, opts QueryOptions) (json.RawMessage, error) {
	return c.get(ctx, "plan/jobstream", opts.values(true, false))
}

// PlanJobStream returns plan/jobstream/{id}.
func (c *Client) PlanJobStream(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "plan/jobstream/"+url.PathEscape(id), nil)
}

// PlanJobStreamPredecessors returns plan/jobstream/{id}/predecessors.
func (c *Client) PlanJobStreamPredecessors(ctx context.Context, id string, depth int) (json.RawMessage, error) {
	if err := validateDepth(depth); err != nil {
		return nil, err
	}
	return c.get(ctx, "plan/jobstream/"+url.PathEscape(id)+"/predecessors", depthParams(depth))
}

// PlanJobStreamSuccessors returns plan/jobstream/{id}/successors.
func (c *Client) PlanJobStreamSuccessors(ctx context.Context, id string, depth int) (json.RawMessage, error) {
	if err := validateDepth(depth); err != nil {
		return nil, err
	}
	return c.get(ctx, "plan/jobstream/"+url.PathEscape(id)+"/successors", depthParams(depth))
}

// PlanJobStreamModelDescription returns plan/jobstream/{id}/model/description.
func (c *Client) PlanJobStreamModelDescription(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "plan/jobstream/"+url.PathEscape(id)+"/model/description", nil)
}

// PlanJobStreamCount returns plan/jobstream/count.
func (c *Client) PlanJobStreamCount(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "plan/jobstream/count", nil)
}

// QueryPlanResources returns plan/resource filtered by opts.
func (c *Client) QueryPlanResources(ctx context.Context, opts QueryOptions) (json.RawMessage, error) {
	return c.get(ctx, "plan/resource", opts.values(false, false))
}

// PlanResource returns plan/resource/{id}.
func (c *Client) PlanResource(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "plan/resource/"+url.PathEscape(id), nil)
}

// PlanFolderObjectCounts returns plan/folder/objects-count for a folder.
func (c *Client) PlanFolderObjectCounts(ctx context.Context, folder string) (json.RawMessage, error) {
	p := url.Values{}
	if folder != "" {
		p.Set("folder", folder)
	}
	return c.get(ctx, "plan/folder/objects-count", p)
}

// ConsumedJobRuns returns plan/consumed-jobs/runs for a job name.
func (c *Client) ConsumedJobRuns(ctx context.Context, jobName string, limit int) (json.RawMessage, error) {
	p := url.Values{}
	if jobName != "" {
		p.Set("jobName", jobName)
	}
	p.Set("limit", strconv.Itoa(clampLimit(limit)))
	return c.get(ctx, "plan/consumed-jobs/runs", p)
}
