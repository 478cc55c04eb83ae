package main

import (
	"net/http"
)

func dashboardHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}

// dashboardHTML polls the admin API every two seconds
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>storeguard</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #0f172a;
            color: #e2e8f0;
            padding: 24px;
        }
        h1 { font-size: 1.8em; margin-bottom: 4px; }
        h2 { font-size: 1.1em; margin: 28px 0 10px; color: #94a3b8; }
        .sub { color: #64748b; margin-bottom: 24px; }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(180px, 1fr));
            gap: 14px;
        }
        .card { background: #1e293b; border-radius: 10px; padding: 16px; }
        .card .label { font-size: 0.8em; text-transform: uppercase; color: #94a3b8; }
        .card .value { font-size: 1.9em; font-weight: 600; margin-top: 6px; }
        .ok { color: #4ade80; }
        .warn { color: #facc15; }
        .bad { color: #f87171; }
        table { width: 100%; border-collapse: collapse; background: #1e293b; border-radius: 10px; overflow: hidden; }
        th, td { padding: 9px 12px; text-align: left; font-size: 0.9em; }
        th { background: #334155; color: #cbd5e1; }
        tr + tr td { border-top: 1px solid #334155; }
        .empty { color: #64748b; text-align: center; }
        button { background: #475569; color: #e2e8f0; border: 0; border-radius: 6px; padding: 4px 10px; cursor: pointer; }
    </style>
</head>
<body>
    <h1>storeguard</h1>
    <p class="sub">Rate limiting and DDoS detection &middot; up <span id="uptime">-</span></p>

    <div class="grid">
        <div class="card"><div class="label">Checks</div><div class="value" id="total">0</div></div>
        <div class="card"><div class="label">Allowed</div><div class="value ok" id="allowed">0</div></div>
        <div class="card"><div class="label">Rate limited</div><div class="value warn" id="limited">0</div></div>
        <div class="card"><div class="label">Suspicious</div><div class="value warn" id="suspicious">0</div></div>
        <div class="card"><div class="label">IP blocks</div><div class="value bad" id="blocks">0</div></div>
        <div class="card"><div class="label">Adaptive</div><div class="value" id="adaptive">off</div></div>
    </div>

    <h2>Blocked IPs</h2>
    <table>
        <thead><tr><th>IP</th><th>Reason</th><th>Until</th><th></th></tr></thead>
        <tbody id="blocked"></tbody>
    </table>

    <h2>Suspicious IPs</h2>
    <table>
        <thead><tr><th>IP</th><th>Score</th><th>Last seen</th></tr></thead>
        <tbody id="suspiciousIPs"></tbody>
    </table>

    <h2>Top clients</h2>
    <table>
        <thead><tr><th>Client</th><th>Checks</th><th>Allowed</th><th>Limited</th></tr></thead>
        <tbody id="clients"></tbody>
    </table>

    <script>
        const esc = s => String(s).replace(/[&<>"']/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;',"'":'&#39;'}[c]));
        const time = s => new Date(s).toLocaleTimeString();

        function rows(id, items, cols, render) {
            const body = document.getElementById(id);
            if (!items || items.length === 0) {
                body.innerHTML = '<tr><td class="empty" colspan="' + cols + '">none</td></tr>';
                return;
            }
            body.innerHTML = items.map(render).join('');
        }

        function token() {
            let t = sessionStorage.getItem('storeguard-admin-token');
            if (!t) {
                t = prompt('Admin token') || '';
                sessionStorage.setItem('storeguard-admin-token', t);
            }
            return t;
        }

        function admin(path, init = {}) {
            init.headers = Object.assign({}, init.headers, { 'Authorization': 'Bearer ' + token() });
            return fetch(path, init).then(res => {
                if (res.status === 401) {
                    sessionStorage.removeItem('storeguard-admin-token');
                }
                return res;
            });
        }

        async function getJSON(path) {
            const res = await admin(path);
            return res.ok ? res.json() : null;
        }

        async function unblock(ip) {
            await admin('/admin/block/' + encodeURIComponent(ip), { method: 'DELETE' });
            refresh();
        }

        async function refresh() {
            const [snap, blocked, suspicious, adaptive] = await Promise.all([
                getJSON('/admin/snapshot'),
                getJSON('/admin/blocked'),
                getJSON('/admin/suspicious'),
                getJSON('/admin/adaptive'),
            ]);

            if (snap) {
                document.getElementById('total').textContent = snap.total_requests;
                document.getElementById('allowed').textContent = snap.allowed_requests;
                document.getElementById('limited').textContent = snap.blocked_requests;
                document.getElementById('suspicious').textContent = snap.suspicious_requests;
                document.getElementById('blocks').textContent = snap.blocked_ips;
                document.getElementById('uptime').textContent = Math.floor(snap.uptime_seconds / 60) + 'm';
                rows('clients', snap.top_clients, 4, c =>
                    '<tr><td>' + esc(c.client_id) + '</td><td>' + c.total_requests + '</td><td>' +
                    c.allowed_requests + '</td><td>' + c.blocked_requests + '</td></tr>');
            }

            rows('blocked', blocked, 4, b =>
                '<tr><td>' + esc(b.ip) + '</td><td>' + esc(b.reason) + '</td><td>' + time(b.until) +
                '</td><td><button onclick="unblock(\'' + esc(b.ip) + '\')">unblock</button></td></tr>');
            rows('suspiciousIPs', suspicious, 3, s =>
                '<tr><td>' + esc(s.ip) + '</td><td>' + s.score + '</td><td>' + time(s.lastSeen) + '</td></tr>');

            document.getElementById('adaptive').textContent = adaptive
                ? adaptive.policy + ' x' + adaptive.multiplier.toFixed(2)
                : 'off';
        }

        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>
`
