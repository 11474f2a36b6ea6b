// Code generated manually in mockery style for lnclient.LNClient.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/thesimplekid/cashu-lsp/lnclient"
)

type MockLNClient struct {
	mock.Mock
}

type MockLNClient_Expecter struct {
	mock *mock.Mock
}

func (_m *MockLNClient) EXPECT() *MockLNClient_Expecter {
	return &MockLNClient_Expecter{mock: &_m.Mock}
}

func NewMockLNClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockLNClient {
	m := &MockLNClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_mock *MockLNClient) GetInfo(ctx context.Context) (*lnclient.NodeInfo, error) {
	ret := _mock.Called(ctx)

	var r0 *lnclient.NodeInfo
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*lnclient.NodeInfo)
	}
	return r0, ret.Error(1)
}

func (_mock *MockLNClient) NewAddress(ctx context.Context) (string, error) {
	ret := _mock.Called(ctx)
	return ret.String(0), ret.Error(1)
}

func (_mock *MockLNClient) OpenChannel(ctx context.Context, request *lnclient.OpenChannelRequest) (*lnclient.OpenChannelResponse, error) {
	ret := _mock.Called(ctx, request)

	if returnFunc, ok := ret.Get(0).(func(context.Context, *lnclient.OpenChannelRequest) (*lnclient.OpenChannelResponse, error)); ok {
		return returnFunc(ctx, request)
	}

	var r0 *lnclient.OpenChannelResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*lnclient.OpenChannelResponse)
	}
	return r0, ret.Error(1)
}

func (_mock *MockLNClient) CloseChannel(ctx context.Context, request *lnclient.CloseChannelRequest) error {
	ret := _mock.Called(ctx, request)
	return ret.Error(0)
}

func (_mock *MockLNClient) ListChannels(ctx context.Context) ([]lnclient.Channel, error) {
	ret := _mock.Called(ctx)

	var r0 []lnclient.Channel
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]lnclient.Channel)
	}
	return r0, ret.Error(1)
}

func (_mock *MockLNClient) GetBalances(ctx context.Context) (*lnclient.BalancesResponse, error) {
	ret := _mock.Called(ctx)

	var r0 *lnclient.BalancesResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*lnclient.BalancesResponse)
	}
	return r0, ret.Error(1)
}

func (_mock *MockLNClient) SendToAddress(ctx context.Context, amountSat uint64, address string) (string, error) {
	ret := _mock.Called(ctx, amountSat, address)
	return ret.String(0), ret.Error(1)
}

func (_mock *MockLNClient) Shutdown() error {
	ret := _mock.Called()
	return ret.Error(0)
}

// Expecter helpers for the calls the orchestrator tests care about

type MockLNClient_OpenChannel_Call struct {
	*mock.Call
}

func (_e *MockLNClient_Expecter) OpenChannel(ctx interface{}, request interface{}) *MockLNClient_OpenChannel_Call {
	return &MockLNClient_OpenChannel_Call{Call: _e.mock.On("OpenChannel", ctx, request)}
}

func (_c *MockLNClient_OpenChannel_Call) Return(response *lnclient.OpenChannelResponse, err error) *MockLNClient_OpenChannel_Call {
	_c.Call.Return(response, err)
	return _c
}

func (_c *MockLNClient_OpenChannel_Call) RunAndReturn(run func(ctx context.Context, request *lnclient.OpenChannelRequest) (*lnclient.OpenChannelResponse, error)) *MockLNClient_OpenChannel_Call {
	_c.Call.Return(run)
	return _c
}

type MockLNClient_ListChannels_Call struct {
	*mock.Call
}

func (_e *MockLNClient_Expecter) ListChannels(ctx interface{}) *MockLNClient_ListChannels_Call {
	return &MockLNClient_ListChannels_Call{Call: _e.mock.On("ListChannels", ctx)}
}

func (_c *MockLNClient_ListChannels_Call) Return(channels []lnclient.Channel, err error) *MockLNClient_ListChannels_Call {
	_c.Call.Return(channels, err)
	return _c
}
