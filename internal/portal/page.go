package portal

// indexPage is the single-page configuration UI served at "/". It talks to
// the JSON API with the session token from /api/login.
const indexPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Tachometer Setup</title>
<style>
body{font-family:sans-serif;max-width:32rem;margin:1rem auto;padding:0 1rem;background:#f4f4f4}
h1{font-size:1.3rem}
label{display:block;margin-top:.6rem;font-size:.9rem}
input,select{width:100%;padding:.4rem;box-sizing:border-box}
button{margin-top:1rem;padding:.5rem 1.2rem}
#status{margin-top:.8rem;font-size:.9rem}
.hidden{display:none}
</style>
</head>
<body>
<h1>Tachometer Setup</h1>
<div id="login">
  <label>Access password<input type="password" id="pw"></label>
  <button onclick="login()">Sign in</button>
</div>
<div id="form" class="hidden">
  <label>WiFi SSID<input id="wifi_ssid"></label>
  <label>WiFi password<input type="password" id="wifi_password"></label>
  <label>Device name<input id="device_name"></label>
  <label>Default tag<input id="default_id_tag"></label>
  <label>Wheel size (mm)<input type="number" id="wheel_size_mm"></label>
  <label>Server URL<input id="server_url"></label>
  <label>API key<input type="password" id="api_key"></label>
  <label>Send interval (s)<input type="number" id="send_interval_seconds"></label>
  <label>Deep sleep (s, 0 = off)<input type="number" id="deep_sleep_seconds"></label>
  <label><input type="checkbox" id="led_enabled" style="width:auto"> LED enabled</label>
  <label><input type="checkbox" id="test_mode" style="width:auto"> Test mode</label>
  <button onclick="save()">Save &amp; exit setup</button>
  <button onclick="reboot()">Reboot</button>
</div>
<div id="status"></div>
<script>
let token="";
const fields=["wifi_ssid","device_name","default_id_tag","server_url"];
const nums=["wheel_size_mm","send_interval_seconds","deep_sleep_seconds"];
const flags=["led_enabled","test_mode"];
function say(t){document.getElementById("status").textContent=t}
async function login(){
  const r=await fetch("/api/login",{method:"POST",headers:{"Content-Type":"application/json"},
    body:JSON.stringify({password:document.getElementById("pw").value})});
  if(!r.ok){say("wrong password");return}
  token=(await r.json()).token;
  document.getElementById("login").classList.add("hidden");
  document.getElementById("form").classList.remove("hidden");
  const c=await (await fetch("/api/config",{headers:{Authorization:"Bearer "+token}})).json();
  fields.forEach(f=>document.getElementById(f).value=c[f]||"");
  nums.forEach(f=>document.getElementById(f).value=c[f]||0);
  flags.forEach(f=>document.getElementById(f).checked=!!c[f]);
  say("");
}
async function save(){
  const body={wifi_password:document.getElementById("wifi_password").value,
    api_key:document.getElementById("api_key").value};
  fields.forEach(f=>body[f]=document.getElementById(f).value);
  nums.forEach(f=>body[f]=Number(document.getElementById(f).value));
  flags.forEach(f=>body[f]=document.getElementById(f).checked);
  const r=await fetch("/api/config",{method:"POST",
    headers:{"Content-Type":"application/json",Authorization:"Bearer "+token},
    body:JSON.stringify(body)});
  say(r.ok?"saved — device will leave setup mode":"save failed");
}
async function reboot(){
  await fetch("/api/reboot",{method:"POST",headers:{Authorization:"Bearer "+token}});
  say("rebooting");
}
</script>
</body>
</html>
`
