package server

import (
	"net/http"

	"go.uber.org/zap"
)

// DevPageHandler serves a small HTML console for poking at the WebSocket
// protocol by hand. It is only routed when auth is disabled, since it relies
// on the user_id and org_id query parameters the static verifier accepts.
func (s *Server) DevPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(devPageHTML)); err != nil {
		s.logger.Debug("error writing dev page", zap.Error(err))
	}
}

const devPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>chat hub console</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #events { border: 1px solid #ccc; height: 360px; padding: 8px; overflow-y: scroll; background: #fafafa; }
        input { width: 300px; margin: 2px 8px 2px 0; }
        .status { margin: 8px 0; }
        .online { color: #155724; }
        .offline { color: #721c24; }
    </style>
</head>
<body>
    <h1>chat hub console</h1>
    <div>
        user <input id="user" placeholder="user uuid">
        org <input id="org" placeholder="org uuid">
        <button onclick="toggle()" id="connect">connect</button>
    </div>
    <div>
        channel <input id="channel" placeholder="channel uuid">
        <button onclick="send('subscribe')">subscribe</button>
        <button onclick="send('unsubscribe')">unsubscribe</button>
        <button onclick="typing(true)">typing</button>
        <button onclick="typing(false)">stop typing</button>
        <button onclick="send('ping')">ping</button>
    </div>
    <div id="status" class="status offline">disconnected</div>
    <div id="events"></div>

    <script>
        let ws = null;
        const $ = (id) => document.getElementById(id);

        function log(text) {
            const line = document.createElement('div');
            line.textContent = new Date().toISOString() + ' ' + text;
            $('events').appendChild(line);
            $('events').scrollTop = $('events').scrollHeight;
        }

        function setStatus(online) {
            $('status').textContent = online ? 'connected' : 'disconnected';
            $('status').className = 'status ' + (online ? 'online' : 'offline');
            $('connect').textContent = online ? 'disconnect' : 'connect';
        }

        function toggle() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const query = '?user_id=' + encodeURIComponent($('user').value) +
                '&org_id=' + encodeURIComponent($('org').value);
            ws = new WebSocket(scheme + location.host + '/ws' + query);
            ws.onopen = () => { setStatus(true); log('connected'); };
            ws.onclose = (e) => { setStatus(false); log('closed ' + e.code + ' ' + e.reason); };
            ws.onerror = () => log('socket error');
            ws.onmessage = (e) => log('<- ' + e.data);
        }

        function frame(obj) {
            if (!ws || ws.readyState !== WebSocket.OPEN) {
                log('not connected');
                return;
            }
            const data = JSON.stringify(obj);
            ws.send(data);
            log('-> ' + data);
        }

        function send(type) {
            const obj = { type: type };
            if (type !== 'ping') obj.channel_id = $('channel').value;
            frame(obj);
        }

        function typing(on) {
            frame({ type: 'typing', channel_id: $('channel').value, payload: { is_typing: on } });
        }
    </script>
</body>
</html>`
