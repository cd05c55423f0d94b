package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"clinic-backend/internal/collab"
	"clinic-backend/internal/model"
)

type memStore struct {
	boards     map[uuid.UUID]*model.Board
	procedures map[int64]*model.Procedure
	users      map[int64]model.User
	clinics    map[int64]map[int64]bool
	saves      int
}

func newMemStore() *memStore {
	return &memStore{
		boards:     make(map[uuid.UUID]*model.Board),
		procedures: map[int64]*model.Procedure{10: {ID: 10, ClinicID: 1, Name: "Implant"}},
		users: map[int64]model.User{
			1: {ID: 1, Nickname: "owner"},
			2: {ID: 2, Nickname: "nurse"},
			3: {ID: 3, Nickname: "outsider"},
		},
		clinics: map[int64]map[int64]bool{1: {1: true, 2: true}},
	}
}

func (m *memStore) ClinicExists(_ context.Context, clinicID int64) (bool, error) {
	_, ok := m.clinics[clinicID]
	return ok, nil
}

func (m *memStore) IsClinicMember(_ context.Context, clinicID, userID int64) (bool, error) {
	return m.clinics[clinicID][userID], nil
}

func (m *memStore) copyBoard(b *model.Board) *model.Board {
	cp := *b
	cp.Elements = append(datatypes.JSON(nil), b.Elements...)
	cp.AppState = mergeShallow(b.AppState, nil)
	cp.Files = mergeShallow(b.Files, nil)
	cp.Members = append([]model.User(nil), b.Members...)
	return &cp
}

func (m *memStore) FindBoard(_ context.Context, clinicID int64, boardID uuid.UUID) (*model.Board, error) {
	b, ok := m.boards[boardID]
	if !ok || b.ClinicID != clinicID {
		return nil, fmt.Errorf("board %s: %w", boardID, ErrNotFound)
	}
	return m.copyBoard(b), nil
}

func (m *memStore) FindBoardByID(_ context.Context, boardID uuid.UUID) (*model.Board, error) {
	b, ok := m.boards[boardID]
	if !ok {
		return nil, fmt.Errorf("board %s: %w", boardID, ErrNotFound)
	}
	return m.copyBoard(b), nil
}

func (m *memStore) ListBoards(_ context.Context, clinicID int64, procedureID *int64) ([]model.Board, error) {
	var out []model.Board
	for _, b := range m.boards {
		if b.ClinicID != clinicID || (procedureID != nil && b.ProcedureID != *procedureID) {
			continue
		}
		cp := m.copyBoard(b)
		cp.Procedure = m.procedures[b.ProcedureID]
		out = append(out, *cp)
	}
	return out, nil
}

func (m *memStore) FindProcedure(_ context.Context, clinicID, procedureID int64) (*model.Procedure, error) {
	p, ok := m.procedures[procedureID]
	if !ok || p.ClinicID != clinicID {
		return nil, fmt.Errorf("procedure %d: %w", procedureID, ErrNotFound)
	}
	return p, nil
}

func (m *memStore) CountUsers(_ context.Context, userIDs []int64) (int64, error) {
	var n int64
	for _, id := range userIDs {
		if _, ok := m.users[id]; ok {
			n++
		}
	}
	return n, nil
}

func (m *memStore) members(ids []int64) []model.User {
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.users[id])
	}
	return out
}

func (m *memStore) CreateBoard(_ context.Context, board *model.Board, memberIDs []int64) error {
	board.ID = uuid.New()
	board.Members = m.members(memberIDs)
	m.boards[board.ID] = m.copyBoard(board)
	return nil
}

func (m *memStore) UpdateBoard(_ context.Context, board *model.Board, memberIDs []int64) error {
	stored := m.boards[board.ID]
	stored.Name = board.Name
	stored.Description = board.Description
	stored.UpdatedBy = board.UpdatedBy
	if memberIDs != nil {
		stored.Members = m.members(memberIDs)
	}
	return nil
}

func (m *memStore) SaveContent(_ context.Context, board *model.Board) error {
	m.saves++
	stored := m.boards[board.ID]
	stored.Elements = board.Elements
	stored.AppState = board.AppState
	stored.Files = board.Files
	stored.UpdatedBy = board.UpdatedBy
	return nil
}

func (m *memStore) DeleteBoard(_ context.Context, boardID uuid.UUID) error {
	delete(m.boards, boardID)
	return nil
}

type fakeLive struct {
	closed       []string
	participants map[string][]collab.Participant
}

func (f *fakeLive) CloseBoard(boardID string) { f.closed = append(f.closed, boardID) }

func (f *fakeLive) Participants(boardID string) []collab.Participant {
	return f.participants[boardID]
}

func newTestService(t *testing.T) (*BoardService, *memStore, *fakeLive) {
	t.Helper()

	store := newMemStore()
	live := &fakeLive{participants: make(map[string][]collab.Participant)}
	return NewBoardService(store, NewMemberService(store), live, nil, 100), store, live
}

func seedBoard(t *testing.T, store *memStore, elements string, members ...int64) uuid.UUID {
	t.Helper()

	id := uuid.New()
	store.boards[id] = &model.Board{
		ID:          id,
		ClinicID:    1,
		ProcedureID: 10,
		Name:        "Treatment plan",
		Elements:    datatypes.JSON(elements),
		AppState:    datatypes.JSONMap{"zoom": 1.0, "tool": "pen"},
		Files:       datatypes.JSONMap{"f1": "old"},
		CreatedBy:   1,
		Members:     store.members(members),
	}
	return id
}

func storedElements(t *testing.T, store *memStore, id uuid.UUID) []collab.Element {
	t.Helper()

	elements, err := collab.DecodeElements(store.boards[id].Elements)
	if err != nil {
		t.Fatalf("decode stored elements: %v", err)
	}
	return elements
}

func decodeJSON(t *testing.T, raw string) []collab.Element {
	t.Helper()

	elements, err := collab.DecodeElements([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return elements
}

const fiveElements = `[{"id":"a","version":1},{"id":"b","version":1},{"id":"c","version":1},{"id":"d","version":1},{"id":"e","version":1}]`

func TestSaveElementsEmptyPayloadKeepsExisting(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := seedBoard(t, store, fiveElements)
	before := string(store.boards[id].Elements)

	board, err := svc.SaveElements(context.Background(), 1, id, 2, SaveElementsInput{})
	if err != nil {
		t.Fatalf("SaveElements: %v", err)
	}
	if string(board.Elements) != before {
		t.Fatalf("returned elements = %s, want %s", board.Elements, before)
	}
	if got := storedElements(t, store, id); len(got) != 5 {
		t.Fatalf("stored %d elements, want 5", len(got))
	}
	if store.saves != 0 {
		t.Fatalf("saves = %d, want no write for an empty payload", store.saves)
	}
}

func TestSaveElementsEmptyPayloadStillMergesAppStateAndFiles(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := seedBoard(t, store, fiveElements)

	_, err := svc.SaveElements(context.Background(), 1, id, 2, SaveElementsInput{
		Elements: []collab.Element{},
		AppState: map[string]any{"zoom": 2.0},
		Files:    map[string]any{"f2": "new"},
	})
	if err != nil {
		t.Fatalf("SaveElements: %v", err)
	}

	stored := store.boards[id]
	if len(storedElements(t, store, id)) != 5 {
		t.Fatal("elements must be untouched")
	}
	if stored.AppState["zoom"] != 2.0 || stored.AppState["tool"] != "pen" {
		t.Errorf("appState = %v, want zoom overwritten and tool kept", stored.AppState)
	}
	if stored.Files["f1"] != "old" || stored.Files["f2"] != "new" {
		t.Errorf("files = %v, want union", stored.Files)
	}
	if stored.UpdatedBy == nil || *stored.UpdatedBy != 2 {
		t.Errorf("updatedBy = %v, want 2", stored.UpdatedBy)
	}
}

func TestSaveElementsMerges(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := seedBoard(t, store, `[{"id":"a","version":2},{"id":"b","version":1}]`)

	incoming := decodeJSON(t, `[{"id":"a","version":1},{"id":"b","version":3,"isDeleted":true},{"id":"c","version":1}]`)
	board, err := svc.SaveElements(context.Background(), 1, id, 1, SaveElementsInput{
		Elements: incoming,
		Files:    map[string]any{"f1": "replaced"},
	})
	if err != nil {
		t.Fatalf("SaveElements: %v", err)
	}

	got := storedElements(t, store, id)
	want := map[string]int64{"a": 2, "b": 3, "c": 1}
	if len(got) != len(want) {
		t.Fatalf("stored %d elements, want %d", len(got), len(want))
	}
	for _, el := range got {
		if want[el.ID] != el.Version {
			t.Errorf("element %s version = %d, want %d", el.ID, el.Version, want[el.ID])
		}
	}
	if live := collab.Live(got); len(live) != 2 {
		t.Errorf("live elements = %d, want 2 (b is deleted)", len(live))
	}
	if board.Files["f1"] != "replaced" {
		t.Errorf("files = %v, want incoming to win", board.Files)
	}
}

func TestSaveElementsAuthorization(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := seedBoard(t, store, `[]`, 3)
	ctx := context.Background()
	in := SaveElementsInput{Elements: decodeJSON(t, `[{"id":"a","version":1}]`)}

	if _, err := svc.SaveElements(ctx, 1, id, 3, in); err != nil {
		t.Fatalf("board member save: %v", err)
	}

	other := seedBoard(t, store, `[]`)
	if _, err := svc.SaveElements(ctx, 1, other, 3, in); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider save: err = %v, want ErrForbidden", err)
	}
	if len(storedElements(t, store, other)) != 0 {
		t.Fatal("forbidden save must not write")
	}

	if _, err := svc.SaveElements(ctx, 1, uuid.New(), 1, in); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown board: err = %v, want ErrNotFound", err)
	}
	if _, err := svc.SaveElements(ctx, 2, id, 1, in); !errors.Is(err, ErrNotFound) {
		t.Fatalf("board of another clinic: err = %v, want ErrNotFound", err)
	}
}

func TestSaveElementsLimit(t *testing.T) {
	svc, store, _ := newTestService(t)
	svc.maxElements = 2
	id := seedBoard(t, store, `[{"id":"a","version":1}]`)

	in := SaveElementsInput{Elements: decodeJSON(t, `[{"id":"b","version":1},{"id":"c","version":1}]`)}
	if _, err := svc.SaveElements(context.Background(), 1, id, 1, in); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
	if store.saves != 0 {
		t.Fatal("rejected save must not write")
	}
}

func TestCreateBoard(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	desc := "  upper jaw  "

	board, err := svc.Create(ctx, 1, 1, CreateBoardInput{ProcedureID: 10, Name: " Plan ", Description: &desc, Members: []int64{2, 2}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if board.Name != "Plan" || board.Description == nil || *board.Description != "upper jaw" {
		t.Errorf("board = %q / %v", board.Name, board.Description)
	}
	if !board.HasMember(1) || !board.HasMember(2) || len(board.Members) != 2 {
		t.Errorf("members = %+v, want creator and nurse once each", board.Members)
	}
	if string(store.boards[board.ID].Elements) != "[]" {
		t.Errorf("elements = %s, want []", store.boards[board.ID].Elements)
	}

	tests := []struct {
		name    string
		userID  int64
		in      CreateBoardInput
		wantErr error
	}{
		{"empty name", 1, CreateBoardInput{ProcedureID: 10, Name: "  "}, ErrInvalidPayload},
		{"long name", 1, CreateBoardInput{ProcedureID: 10, Name: strings.Repeat("x", 101)}, ErrInvalidPayload},
		{"not assigned", 3, CreateBoardInput{ProcedureID: 10, Name: "Plan"}, ErrForbidden},
		{"foreign procedure", 1, CreateBoardInput{ProcedureID: 99, Name: "Plan"}, ErrNotFound},
		{"unknown member", 1, CreateBoardInput{ProcedureID: 10, Name: "Plan", Members: []int64{42}}, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, 1, tt.userID, tt.in); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := svc.Create(ctx, 7, 1, CreateBoardInput{ProcedureID: 10, Name: "Plan"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown clinic: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateBoardKeepsCreator(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := seedBoard(t, store, `[]`, 1, 2)
	name := "Renamed"

	board, err := svc.Update(context.Background(), 1, id, 2, UpdateBoardInput{Name: &name, Members: []int64{2}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if board.Name != "Renamed" {
		t.Errorf("name = %q", board.Name)
	}
	if !board.HasMember(1) || !board.HasMember(2) {
		t.Errorf("members = %+v, want creator kept", board.Members)
	}

	long := strings.Repeat("d", 501)
	if _, err := svc.Update(context.Background(), 1, id, 2, UpdateBoardInput{Description: &long}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("long description: err = %v, want ErrInvalidPayload", err)
	}
}

func TestListByClinicGroupsByProcedure(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.procedures[11] = &model.Procedure{ID: 11, ClinicID: 1, Name: "Scaling"}
	seedBoard(t, store, `[]`)
	seedBoard(t, store, `[]`)
	other := seedBoard(t, store, `[]`)
	store.boards[other].ProcedureID = 11

	groups, err := svc.ListByClinic(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("ListByClinic: %v", err)
	}
	counts := make(map[int64]int)
	for _, g := range groups {
		counts[g.Procedure.ID] = len(g.Boards)
	}
	if len(groups) != 2 || counts[10] != 2 || counts[11] != 1 {
		t.Fatalf("group sizes = %v, want 10:2 11:1", counts)
	}

	boards, err := svc.ListByProcedure(context.Background(), 1, 11, 1)
	if err != nil || len(boards) != 1 {
		t.Fatalf("ListByProcedure = %d boards, %v", len(boards), err)
	}
	if _, err := svc.ListByClinic(context.Background(), 1, 3); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider list: err = %v, want ErrForbidden", err)
	}
}

func TestDeleteBoardClosesLiveState(t *testing.T) {
	svc, store, live := newTestService(t)
	id := seedBoard(t, store, fiveElements)

	if err := svc.Delete(context.Background(), 1, id, 3); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider delete: err = %v, want ErrForbidden", err)
	}
	if len(live.closed) != 0 {
		t.Fatal("rejected delete must not touch live state")
	}

	if err := svc.Delete(context.Background(), 1, id, 2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := store.boards[id]; ok {
		t.Fatal("board should be deleted")
	}
	if len(live.closed) != 1 || live.closed[0] != id.String() {
		t.Fatalf("closed = %v, want [%s]", live.closed, id)
	}
}

func TestActiveUsers(t *testing.T) {
	svc, store, live := newTestService(t)
	id := seedBoard(t, store, `[]`)
	live.participants[id.String()] = []collab.Participant{{ConnectionID: "c1", DisplayName: "Ann"}}

	got, err := svc.ActiveUsers(context.Background(), 1, id, 2)
	if err != nil {
		t.Fatalf("ActiveUsers: %v", err)
	}
	if len(got) != 1 || got[0].DisplayName != "Ann" {
		t.Fatalf("participants = %+v", got)
	}
	if _, err := svc.ActiveUsers(context.Background(), 1, id, 3); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider: err = %v, want ErrForbidden", err)
	}
}

func TestJoinGate(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := seedBoard(t, store, `[{"id":"a","version":4,"isDeleted":true}]`, 3)
	shared := seedBoard(t, store, `[]`)
	gate := svc.JoinGate()
	ctx := context.Background()

	if err := gate.AuthorizeJoin(ctx, 3, id.String()); err != nil {
		t.Fatalf("board member join: %v", err)
	}
	if err := gate.AuthorizeJoin(ctx, 2, shared.String()); err != nil {
		t.Fatalf("clinic member join: %v", err)
	}
	if err := gate.AuthorizeJoin(ctx, 3, shared.String()); !errors.Is(err, collab.ErrForbidden) {
		t.Fatalf("outsider join: err = %v, want collab.ErrForbidden", err)
	}
	if err := gate.AuthorizeJoin(ctx, 1, "not-a-uuid"); !errors.Is(err, collab.ErrBoardNotFound) {
		t.Fatalf("bad id: err = %v, want collab.ErrBoardNotFound", err)
	}
	if err := gate.AuthorizeJoin(ctx, 1, uuid.NewString()); !errors.Is(err, collab.ErrBoardNotFound) {
		t.Fatalf("unknown board: err = %v, want collab.ErrBoardNotFound", err)
	}

	elements, err := gate.PersistedElements(ctx, id.String())
	if err != nil {
		t.Fatalf("PersistedElements: %v", err)
	}
	if len(elements) != 1 || !elements[0].IsDeleted {
		t.Fatalf("elements = %+v, want the stored tombstone", elements)
	}

	raw, _ := json.Marshal(elements)
	if string(raw) != `[{"id":"a","version":4,"isDeleted":true}]` {
		t.Fatalf("re-encoded = %s", raw)
	}
}
