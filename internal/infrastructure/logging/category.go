package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	Internal        Category = "Internal"
	Redis           Category = "Redis"
	RabbitMQ        Category = "RabbitMQ"
	MongoDB         Category = "MongoDB"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	WebSocket       Category = "WebSocket"
	Room            Category = "Room"
	Cache           Category = "Cache"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"

	// WebSocket
	Connect    SubCategory = "Connect"
	Disconnect SubCategory = "Disconnect"
	Heartbeat  SubCategory = "Heartbeat"
	Broadcast  SubCategory = "Broadcast"

	// Room
	Join     SubCategory = "Join"
	Mutation SubCategory = "Mutation"
	Policy   SubCategory = "Policy"

	// Storage
	Select       SubCategory = "Select"
	Insert       SubCategory = "Insert"
	Update       SubCategory = "Update"
	Delete       SubCategory = "Delete"
	Invalidation SubCategory = "Invalidation"
	Publish      SubCategory = "Publish"
	SlowQuery    SubCategory = "SlowQuery"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ClientIp     ExtraKey = "ClientIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	BodySize     ExtraKey = "BodySize"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	ErrorMessage ExtraKey = "ErrorMessage"
	RoomCode     ExtraKey = "RoomCode"
	Participant  ExtraKey = "ParticipantId"
	ConnectionID ExtraKey = "ConnectionId"
	Event        ExtraKey = "Event"
	CloseCode    ExtraKey = "CloseCode"
	Connections  ExtraKey = "Connections"
	Admitted     ExtraKey = "Admitted"
)
