package apiclient

import "context"

// FakeApiClient is an in-memory ApiClient double for tests that need to
// observe or script calls without an httptest.Server.
type FakeApiClient struct {
	RoomInfo    RoomInfo
	CreateErr   error
	HealthErr   error
	TurnCreds   TurnCredentials
	TurnErr     error
	InviteErr   error
	CreateCalls int
	HealthCalls int
	TurnCalls   int
	InviteCalls int
	LastTurnToken string
}

func (f *FakeApiClient) CreateRoom(ctx context.Context, host string) (RoomInfo, error) {
	f.CreateCalls++
	return f.RoomInfo, f.CreateErr
}

func (f *FakeApiClient) CheckHealth(ctx context.Context, host string) error {
	f.HealthCalls++
	return f.HealthErr
}

func (f *FakeApiClient) FetchTurn(ctx context.Context, host, token string) (TurnCredentials, error) {
	f.TurnCalls++
	f.LastTurnToken = token
	return f.TurnCreds, f.TurnErr
}

func (f *FakeApiClient) NotifyInvite(ctx context.Context, host, roomID, targetCid string) error {
	f.InviteCalls++
	return f.InviteErr
}
