package model

// AllServers is the wildcard server ID.
const AllServers = -1

// Server is a game server as exposed by the API.
type Server struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Servers lists every known server ID in lookup order. Public API IDs come before the
// GNJOY internal IDs so that name matching resolves to the public ID.
var Servers = []Server{
	{ID: -1, Name: "전체"},
	{ID: 1, Name: "바포메트"},
	{ID: 2, Name: "이그드라실"},
	{ID: 3, Name: "다크로드"},
	{ID: 4, Name: "이프리트"},
	{ID: 129, Name: "바포메트"},
	{ID: 229, Name: "이그드라실"},
	{ID: 529, Name: "다크로드"},
	{ID: 729, Name: "이프리트"},
}

// gnjoyToAPI maps GNJOY internal server IDs to public API IDs.
var gnjoyToAPI = map[int]int{
	129: 1,
	229: 2,
	529: 3,
	729: 4,
}

// ServerName returns the display name for id.
func ServerName(id int) (string, bool) {
	for _, s := range Servers {
		if s.ID == id {
			return s.Name, true
		}
	}
	return "", false
}

// PublicServerID maps a GNJOY internal ID to its public API ID. Other IDs pass through.
func PublicServerID(id int) int {
	if api, ok := gnjoyToAPI[id]; ok {
		return api
	}
	return id
}
