package api

// clientRequest is the body of intro and reset
type clientRequest struct {
	ClientID string `json:"clientId"`
}

// replyRequest is the body of /api/reply
type replyRequest struct {
	ClientID string `json:"clientId"`
	Text     string `json:"text"`
	Speaking bool   `json:"speaking"`
}

// adjacentRequest is the body of /api/adjacent
type adjacentRequest struct {
	ClientID string `json:"clientId"`
	Prefix   string `json:"prefix"`
	Speaking bool   `json:"speaking"`
}

// turnResponse is returned by intro, reply and adjacent
type turnResponse struct {
	Reply    string `json:"reply"`
	Audio    string `json:"audio"`
	TTSError string `json:"ttsError"`
	Dbg      string `json:"dbg"`
}

type replyResponse struct {
	turnResponse
	Interrupt bool `json:"interrupt"`
}

type errorResponse struct {
	turnResponse
	Error string `json:"error"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type pingResponse struct {
	OK          bool   `json:"ok"`
	TS          int64  `json:"ts"`
	IntroSent   bool   `json:"introSent"`
	LastSpeaker string `json:"lastSpeaker"`
}

type probeResponse struct {
	OK       bool   `json:"ok"`
	Provider string `json:"provider"`
	Error    string `json:"error,omitempty"`
}
