package server

// roomPage is the conferencing client served for every room.
//
// Markup contract used by the presence probe:
//   - a text input labelled "Username" and a "Connect" button
//   - #userspan appears once the connection is up
//   - remote streams render as video.media#media-<user>, with their
//     controls in #controls-<user> holding a .volume-mute button
//   - window.setStatus(status) changes the local presence
//   - #presence lists every member's status, fed by the events websocket
//
// The local preview carries the media class but not the media- id prefix.
const roomPage = `<!DOCTYPE html>
<html>
<head>
    <title>Room {{.Room}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            max-width: 960px;
            margin: 30px auto;
            padding: 20px;
            background: #f5f5f5;
        }
        .container {
            background: white;
            padding: 24px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        button {
            background: #4285f4;
            color: white;
            border: none;
            padding: 8px 16px;
            border-radius: 4px;
            cursor: pointer;
        }
        #error { color: #721c24; }
        #peers { display: flex; flex-wrap: wrap; gap: 12px; margin-top: 16px; }
        .peer { background: #000; border-radius: 4px; padding: 4px; }
        video.media { width: 320px; height: 240px; display: block; }
        .controls button.muted { background: #ea4335; }
        #presence { list-style: none; padding: 0; color: #555; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Room {{.Room}}</h1>

        <form id="loginform" onsubmit="return false;">
            <label for="username">Username</label>
            <input id="username" type="text" autocomplete="off">
            <button id="connectbutton" type="button">Connect</button>
        </form>

        <div id="profile" hidden>
            Logged in as <span id="userspan"></span>
            (<span id="status">Online</span>)
        </div>
        <div id="error"></div>
        <ul id="presence"></ul>

        <div id="peers">
            <div class="peer local">
                <video id="local-preview" class="media local" autoplay playsinline muted></video>
            </div>
        </div>
    </div>

    <script>
        const room = {{.Room}};
        const muteOnAway = {{.MuteOnAway}};
        const stuckMuteIndicator = {{.StuckMuteIndicator}};
        const receiveSlots = {{.ReceiveSlots}};
        const volumeOn = 'volume-mute fas fa-volume-up';
        const volumeOff = 'volume-mute fas fa-volume-off muted';

        let username = null;
        let pc = null;
        let publishers = [];

        function groupURL(path) {
            return '/group/' + encodeURIComponent(room) + '/' + path;
        }

        function showError(msg) {
            document.getElementById('error').textContent = msg;
        }

        function joined() {
            if (document.getElementById('userspan').textContent) return;
            document.getElementById('loginform').hidden = true;
            document.getElementById('profile').hidden = false;
            document.getElementById('userspan').textContent = username;
        }

        function renderMember(m) {
            let li = document.getElementById('presence-' + m.username);
            if (!li) {
                li = document.createElement('li');
                li.id = 'presence-' + m.username;
                document.getElementById('presence').appendChild(li);
            }
            li.textContent = m.username + ': ' + m.status + (m.publishing ? ' (video)' : '');
        }

        function watchRoom() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(scheme + location.host + groupURL('events'));
            ws.onmessage = e => {
                const ev = JSON.parse(e.data);
                switch (ev.type) {
                case 'members':
                    document.getElementById('presence').replaceChildren();
                    (ev.members || []).forEach(renderMember);
                    break;
                case 'join':
                case 'update':
                    renderMember(ev.member);
                    break;
                case 'leave': {
                    const li = document.getElementById('presence-' + ev.member.username);
                    if (li) li.remove();
                    break;
                }
                }
            };
        }

        function setVolumeButton(btn, muted) {
            btn.className = muted ? volumeOff : volumeOn;
            btn.title = muted ? 'Unmute' : 'Mute';
        }

        function addMedia(id, stream) {
            if (document.getElementById('media-' + id)) return;

            const peer = document.createElement('div');
            peer.className = 'peer';
            peer.id = 'peer-' + id;

            const video = document.createElement('video');
            video.id = 'media-' + id;
            video.className = 'media';
            video.autoplay = true;
            video.playsInline = true;
            video.muted = false;
            video.srcObject = stream;

            const controls = document.createElement('div');
            controls.id = 'controls-' + id;
            controls.className = 'controls';
            const btn = document.createElement('button');
            btn.type = 'button';
            setVolumeButton(btn, false);
            btn.onclick = () => {
                video.muted = !video.muted;
                setVolumeButton(btn, video.muted);
            };
            controls.appendChild(btn);

            peer.appendChild(video);
            peer.appendChild(controls);
            document.getElementById('peers').appendChild(peer);
        }

        function forEachRemote(fn) {
            document.querySelectorAll('video.media').forEach(v => {
                if (!v.id.startsWith('media-')) return;
                const controls = document.getElementById('controls-' + v.id.split('-')[1]);
                fn(v, controls && controls.querySelector('.volume-mute'));
            });
        }

        function applyAway(away) {
            forEachRemote((v, btn) => {
                v.muted = away;
                if (btn) setVolumeButton(btn, away);
            });
        }

        function markIndicatorsMuted() {
            forEachRemote((v, btn) => {
                if (btn) setVolumeButton(btn, true);
            });
        }

        function setStatus(status) {
            document.getElementById('status').textContent = status;
            if (muteOnAway) applyAway(status === 'Away');
            else if (stuckMuteIndicator && status === 'Away') markIndicatorsMuted();
            if (!username) return Promise.resolve(false);
            return fetch(groupURL('status'), {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ username: username, status: status })
            }).then(r => r.ok);
        }

        async function connect() {
            const name = document.getElementById('username').value.trim();
            if (!name) {
                showError('Username required');
                return;
            }
            username = name;
            document.getElementById('connectbutton').disabled = true;

            try {
                const stream = await navigator.mediaDevices.getUserMedia({ video: true, audio: false });
                document.getElementById('local-preview').srcObject = stream;

                pc = new RTCPeerConnection({ iceServers: [] });

                // Receive slots first: the server binds remote streams to
                // the first free video transceivers.
                for (let i = 0; i < receiveSlots; i++) {
                    pc.addTransceiver('video', { direction: 'recvonly' });
                }
                stream.getVideoTracks().forEach(track => {
                    pc.addTransceiver(track, { direction: 'sendonly', streams: [stream] });
                });

                pc.ontrack = e => {
                    const s = e.streams[0];
                    if (!s || !publishers.includes(s.id)) return;
                    addMedia(s.id, s);
                };
                pc.onconnectionstatechange = () => {
                    if (pc.connectionState === 'connected') joined();
                    if (pc.connectionState === 'failed') showError('Connection failed');
                };

                await pc.setLocalDescription(await pc.createOffer());
                await new Promise(resolve => {
                    if (pc.iceGatheringState === 'complete') {
                        resolve();
                        return;
                    }
                    pc.onicegatheringstatechange = () => {
                        if (pc.iceGatheringState === 'complete') resolve();
                    };
                });

                const resp = await fetch(groupURL('join'), {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/json' },
                    body: JSON.stringify({ username: username, offer: pc.localDescription })
                });
                if (!resp.ok) {
                    throw new Error('Server returned ' + resp.status + ': ' + (await resp.text()));
                }
                const reply = await resp.json();
                publishers = reply.publishers || [];
                await pc.setRemoteDescription(reply.answer);
            } catch (err) {
                showError(err.message || String(err));
                document.getElementById('connectbutton').disabled = false;
                username = null;
            }
        }

        document.getElementById('connectbutton').onclick = connect;
        watchRoom();
    </script>
</body>
</html>
`
