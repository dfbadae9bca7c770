package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"agora.org/internal/governance"
	"agora.org/internal/ids"
)

type pgTx struct {
	tx *sql.Tx
}

var _ governance.Tx = (*pgTx)(nil)

type scanner interface {
	Scan(dest ...any) error
}

// --- groups ---

const groupColumns = `id, name, description, creator_id, visibility, transparency, founder_only_rules, created_at, updated_at`

func scanGroup(row scanner) (governance.Group, error) {
	var g governance.Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatorID, &g.Visibility, &g.Transparency,
		&g.FounderOnlyRules, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func (t *pgTx) CreateGroup(ctx context.Context, g *governance.Group) error {
	if g.ID == "" {
		g.ID = ids.New()
	}
	_, err := t.tx.ExecContext(ctx, `
		insert into groups(`+groupColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, g.ID, g.Name, g.Description, g.CreatorID, string(g.Visibility), string(g.Transparency),
		g.FounderOnlyRules, g.CreatedAt, g.UpdatedAt)
	return translate(err, "group "+g.ID, nil)
}

func (t *pgTx) Group(ctx context.Context, id string) (governance.Group, error) {
	g, err := scanGroup(t.tx.QueryRowContext(ctx, `select `+groupColumns+` from groups where id=$1`, id))
	return g, translate(err, "group "+id, nil)
}

func (t *pgTx) LockGroup(ctx context.Context, id string) (governance.Group, error) {
	g, err := scanGroup(t.tx.QueryRowContext(ctx, `select `+groupColumns+` from groups where id=$1 for update`, id))
	return g, translate(err, "group "+id, nil)
}

func (t *pgTx) UpdateGroup(ctx context.Context, g governance.Group) error {
	res, err := t.tx.ExecContext(ctx, `
		update groups set name=$2, description=$3, creator_id=$4, visibility=$5, transparency=$6,
			founder_only_rules=$7, updated_at=$8
		where id=$1
	`, g.ID, g.Name, g.Description, g.CreatorID, string(g.Visibility), string(g.Transparency), g.FounderOnlyRules, g.UpdatedAt)
	if err != nil {
		return translate(err, "group "+g.ID, nil)
	}
	return mustAffect(res, "group "+g.ID)
}

func (t *pgTx) DeleteGroup(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `delete from groups where id=$1`, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "group "+id)
}

// --- memberships ---

func (t *pgTx) Role(ctx context.Context, groupID, userID string) (governance.Role, error) {
	var role string
	err := t.tx.QueryRowContext(ctx, `select role from memberships where group_id=$1 and user_id=$2`, groupID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return governance.RoleNone, nil
	}
	if err != nil {
		return governance.RoleNone, err
	}
	return governance.Role(role), nil
}

func (t *pgTx) AddMember(ctx context.Context, m governance.Membership) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into memberships(group_id, user_id, role, joined_at) values ($1,$2,$3,$4)
	`, m.GroupID, m.UserID, string(m.Role), m.JoinedAt)
	return translate(err, fmt.Sprintf("membership %s/%s", m.GroupID, m.UserID), nil)
}

func (t *pgTx) SetRole(ctx context.Context, groupID, userID string, role governance.Role) error {
	what := fmt.Sprintf("membership %s/%s", groupID, userID)
	res, err := t.tx.ExecContext(ctx, `update memberships set role=$3 where group_id=$1 and user_id=$2`, groupID, userID, string(role))
	if err != nil {
		return translate(err, what, nil)
	}
	return mustAffect(res, what)
}

func (t *pgTx) RemoveMember(ctx context.Context, groupID, userID string) error {
	res, err := t.tx.ExecContext(ctx, `delete from memberships where group_id=$1 and user_id=$2`, groupID, userID)
	if err != nil {
		return err
	}
	return mustAffect(res, fmt.Sprintf("membership %s/%s", groupID, userID))
}

func (t *pgTx) Members(ctx context.Context, groupID string) ([]governance.Membership, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select group_id, user_id, role, joined_at from memberships
		where group_id=$1
		order by joined_at asc, user_id asc
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []governance.Membership
	for rows.Next() {
		var m governance.Membership
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *pgTx) CountByRole(ctx context.Context, groupID string) (governance.RoleCounts, error) {
	rows, err := t.tx.QueryContext(ctx, `select role, count(*) from memberships where group_id=$1 group by role`, groupID)
	if err != nil {
		return governance.RoleCounts{}, err
	}
	defer rows.Close()
	var c governance.RoleCounts
	for rows.Next() {
		var (
			role string
			n    int
		)
		if err := rows.Scan(&role, &n); err != nil {
			return governance.RoleCounts{}, err
		}
		switch governance.Role(role) {
		case governance.RoleFounder:
			c.Founders = n
		case governance.RoleManager:
			c.Managers = n
		case governance.RoleMember:
			c.Members = n
		}
	}
	return c, rows.Err()
}

// --- join requests ---

const joinRequestColumns = `id, group_id, user_id, message, status, required_votes, created_at, resolved_at`

func scanJoinRequest(row scanner) (governance.JoinRequest, error) {
	var (
		r        governance.JoinRequest
		resolved sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.GroupID, &r.UserID, &r.Message, &r.Status, &r.RequiredVotes, &r.CreatedAt, &resolved); err != nil {
		return governance.JoinRequest{}, err
	}
	r.ResolvedAt = timePtr(resolved)
	return r, nil
}

func (t *pgTx) CreateJoinRequest(ctx context.Context, r *governance.JoinRequest) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	_, err := t.tx.ExecContext(ctx, `
		insert into join_requests(`+joinRequestColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, r.ID, r.GroupID, r.UserID, r.Message, string(r.Status), r.RequiredVotes, r.CreatedAt, nullTime(r.ResolvedAt))
	return translate(err, "join request "+r.ID, nil)
}

func (t *pgTx) JoinRequest(ctx context.Context, id string) (governance.JoinRequest, error) {
	r, err := scanJoinRequest(t.tx.QueryRowContext(ctx, `select `+joinRequestColumns+` from join_requests where id=$1`, id))
	return r, translate(err, "join request "+id, nil)
}

func (t *pgTx) UpdateJoinRequest(ctx context.Context, r governance.JoinRequest) error {
	res, err := t.tx.ExecContext(ctx, `
		update join_requests set status=$2, required_votes=$3, resolved_at=$4 where id=$1
	`, r.ID, string(r.Status), r.RequiredVotes, nullTime(r.ResolvedAt))
	if err != nil {
		return err
	}
	return mustAffect(res, "join request "+r.ID)
}

func (t *pgTx) LatestJoinRequest(ctx context.Context, groupID, userID string) (governance.JoinRequest, error) {
	r, err := scanJoinRequest(t.tx.QueryRowContext(ctx, `
		select `+joinRequestColumns+` from join_requests
		where group_id=$1 and user_id=$2
		order by id desc
		limit 1
	`, groupID, userID))
	return r, translate(err, "join request for "+userID, nil)
}

func (t *pgTx) ListJoinRequests(ctx context.Context, groupID string, statuses ...governance.RequestStatus) ([]governance.JoinRequest, error) {
	q := `select ` + joinRequestColumns + ` from join_requests where group_id=$1`
	args := []any{groupID}
	if len(statuses) > 0 {
		vals := make([]string, len(statuses))
		for i, s := range statuses {
			vals[i] = string(s)
		}
		var in string
		in, args = inList(args, vals)
		q += ` and status in (` + in + `)`
	}
	q += ` order by id asc`
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []governance.JoinRequest
	for rows.Next() {
		r, err := scanJoinRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) AddJoinVote(ctx context.Context, v governance.JoinVote) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into join_votes(request_id, voter_id, choice, cast_at) values ($1,$2,$3,$4)
	`, v.RequestID, v.VoterID, string(v.Choice), v.CastAt)
	return translate(err, "join request "+v.RequestID, governance.ErrDuplicateVote)
}

func (t *pgTx) JoinVotes(ctx context.Context, requestID string) ([]governance.JoinVote, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select request_id, voter_id, choice, cast_at from join_votes
		where request_id=$1
		order by cast_at asc, voter_id asc
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []governance.JoinVote
	for rows.Next() {
		var v governance.JoinVote
		if err := rows.Scan(&v.RequestID, &v.VoterID, &v.Choice, &v.CastAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- proposals ---

const proposalColumns = `id, group_id, category, action_type, proposer_id, target_user_id, title, description,
	reason, payload, status, required_votes, total_eligible_voters, created_at, expires_at, resolved_at`

func scanProposal(row scanner) (governance.Proposal, error) {
	var (
		p        governance.Proposal
		payload  []byte
		resolved sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.GroupID, &p.Category, &p.ActionType, &p.ProposerID, &p.TargetUserID,
		&p.Title, &p.Description, &p.Reason, &payload, &p.Status, &p.RequiredVotes, &p.TotalEligibleVoters,
		&p.CreatedAt, &p.ExpiresAt, &resolved); err != nil {
		return governance.Proposal{}, err
	}
	if len(payload) > 0 && string(payload) != "null" {
		p.Payload = &governance.PolicyPayload{}
		if err := json.Unmarshal(payload, p.Payload); err != nil {
			return governance.Proposal{}, fmt.Errorf("decode payload of proposal %s: %w", p.ID, err)
		}
	}
	p.ResolvedAt = timePtr(resolved)
	return p, nil
}

func (t *pgTx) CreateProposal(ctx context.Context, p *governance.Proposal) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	var payload []byte
	if p.Payload != nil {
		raw, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		payload = raw
	}
	_, err := t.tx.ExecContext(ctx, `
		insert into proposals(`+proposalColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, p.ID, p.GroupID, string(p.Category), string(p.ActionType), p.ProposerID, p.TargetUserID,
		p.Title, p.Description, p.Reason, payload, string(p.Status), p.RequiredVotes, p.TotalEligibleVoters,
		p.CreatedAt, p.ExpiresAt, nullTime(p.ResolvedAt))
	return translate(err, "proposal "+p.ID, nil)
}

func (t *pgTx) Proposal(ctx context.Context, id string) (governance.Proposal, error) {
	p, err := scanProposal(t.tx.QueryRowContext(ctx, `select `+proposalColumns+` from proposals where id=$1`, id))
	return p, translate(err, "proposal "+id, nil)
}

// UpdateProposal persists the mutable lifecycle fields.
func (t *pgTx) UpdateProposal(ctx context.Context, p governance.Proposal) error {
	res, err := t.tx.ExecContext(ctx, `
		update proposals set status=$2, required_votes=$3, total_eligible_voters=$4, resolved_at=$5
		where id=$1
	`, p.ID, string(p.Status), p.RequiredVotes, p.TotalEligibleVoters, nullTime(p.ResolvedAt))
	if err != nil {
		return err
	}
	return mustAffect(res, "proposal "+p.ID)
}

func (t *pgTx) ListProposals(ctx context.Context, f governance.ProposalFilter) ([]governance.Proposal, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.GroupID != "" {
		add("group_id = ?", f.GroupID)
	}
	if len(f.Statuses) > 0 {
		vals := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			vals[i] = string(s)
		}
		var in string
		in, args = inList(args, vals)
		where = append(where, "status in ("+in+")")
	}
	if !f.ResolvedSince.IsZero() {
		add("resolved_at >= ?", f.ResolvedSince)
	}
	if !f.ExpiredBy.IsZero() {
		add("expires_at <= ?", f.ExpiredBy)
	}
	q := `select ` + proposalColumns + ` from proposals`
	if len(where) > 0 {
		q += ` where ` + strings.Join(where, " and ")
	}
	q += ` order by id desc`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` limit $` + strconv.Itoa(len(args))
	}
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []governance.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) AddProposalVote(ctx context.Context, v governance.ProposalVote) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into proposal_votes(proposal_id, voter_id, choice, cast_at) values ($1,$2,$3,$4)
	`, v.ProposalID, v.VoterID, string(v.Choice), v.CastAt)
	return translate(err, "proposal "+v.ProposalID, governance.ErrDuplicateVote)
}

func (t *pgTx) ProposalVotes(ctx context.Context, proposalID string) ([]governance.ProposalVote, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select proposal_id, voter_id, choice, cast_at from proposal_votes
		where proposal_id=$1
		order by cast_at asc, voter_id asc
	`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []governance.ProposalVote
	for rows.Next() {
		var v governance.ProposalVote
		if err := rows.Scan(&v.ProposalID, &v.VoterID, &v.Choice, &v.CastAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- log & funds ---

func (t *pgTx) AppendLog(ctx context.Context, e *governance.LogEntry) error {
	if e.ID == "" {
		e.ID = ids.At(e.CreatedAt)
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode log details: %w", err)
		}
		details = raw
	}
	_, err := t.tx.ExecContext(ctx, `
		insert into governance_log(id, group_id, action_type, actor_id, target_user_id, details, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.GroupID, e.ActionType, e.ActorID, e.TargetUserID, details, e.CreatedAt)
	return translate(err, "log entry "+e.ID, nil)
}

func (t *pgTx) Logs(ctx context.Context, groupID string, limit int) ([]governance.LogEntry, error) {
	q := `
		select id, group_id, action_type, actor_id, target_user_id, details, created_at
		from governance_log
		where group_id=$1
		order by id desc`
	args := []any{groupID}
	if limit > 0 {
		q += ` limit $2`
		args = append(args, limit)
	}
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []governance.LogEntry
	for rows.Next() {
		var (
			e       governance.LogEntry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.GroupID, &e.ActionType, &e.ActorID, &e.TargetUserID, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode details of log entry %s: %w", e.ID, err)
			}
			if len(e.Details) == 0 {
				e.Details = nil
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateFund(ctx context.Context, f *governance.Fund) error {
	if f.ID == "" {
		f.ID = ids.New()
	}
	_, err := t.tx.ExecContext(ctx, `
		insert into funds(id, group_id, proposal_id, name, target_amount, currency, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, f.ID, f.GroupID, f.ProposalID, f.Name, f.TargetAmount, f.Currency, f.CreatedAt)
	return translate(err, "fund "+f.ID, nil)
}

func (t *pgTx) Funds(ctx context.Context, groupID string) ([]governance.Fund, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select id, group_id, proposal_id, name, target_amount, currency, created_at
		from funds where group_id=$1 order by id asc
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []governance.Fund
	for rows.Next() {
		var f governance.Fund
		if err := rows.Scan(&f.ID, &f.GroupID, &f.ProposalID, &f.Name, &f.TargetAmount, &f.Currency, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- helpers ---

// inList appends vals to args and returns the matching "$n, $m" placeholder list.
func inList(args []any, vals []string) (string, []any) {
	ph := make([]string, len(vals))
	for i, v := range vals {
		args = append(args, v)
		ph[i] = "$" + strconv.Itoa(len(args))
	}
	return strings.Join(ph, ", "), args
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
